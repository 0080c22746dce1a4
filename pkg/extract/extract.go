// Package extract pulls the subject and plain text body out of raw messages.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime/v2"
)

// Placeholders used when a message carries no usable content.
const (
	NoSubject     = "No Subject"
	NoTextContent = "No text content"
)

// ErrParse indicates the raw bytes could not be parsed as a MIME message.
var ErrParse = errors.New("unparseable message")

// Extract parses raw as a MIME email and returns its subject and plain text
// body.  It is deterministic and has no side effects; parse failures wrap
// ErrParse for the session handler to convert into an SMTP failure.
func Extract(raw []byte) (subject string, body string, err error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	subject = env.GetHeader("Subject")
	if subject == "" {
		subject = NoSubject
	}
	return subject, textBody(env.Root), nil
}

// textBody selects the message body.  Single part messages return their
// decoded payload as-is; multipart messages return the first text/plain part
// in document order, or a placeholder when no such part exists.
func textBody(root *enmime.Part) string {
	if root == nil {
		return ""
	}
	if !strings.HasPrefix(root.ContentType, "multipart/") {
		return string(root.Content)
	}
	if part := firstTextPlain(root.FirstChild); part != nil {
		return string(part.Content)
	}
	return NoTextContent
}

// firstTextPlain walks part and its siblings depth-first for a text/plain
// leaf with a non-empty payload.
func firstTextPlain(part *enmime.Part) *enmime.Part {
	for ; part != nil; part = part.NextSibling {
		if part.ContentType == "text/plain" && len(part.Content) > 0 {
			return part
		}
		if found := firstTextPlain(part.FirstChild); found != nil {
			return found
		}
	}
	return nil
}
