// Package notify renders and delivers chat notifications for inbound mail.
package notify

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// truncationMarker is appended to bodies cut at the length limit.
const truncationMarker = " [...]"

// Format renders the notification text for one inbound message.  Sender,
// recipients and subject are HTML-escaped for Telegram's HTML parse mode.
// maxBody limits the body length in characters; zero or negative disables
// truncation.  The timestamp is captured at format time.
func Format(sender string, recipients []string, subject, body string, maxBody int) string {
	if maxBody > 0 {
		if runes := []rune(body); len(runes) > maxBody {
			body = string(runes[:maxBody]) + truncationMarker
		}
	}
	return fmt.Sprintf(
		"<b>\U0001F4E7 New Email</b>\n<code>%s</code>\n\n"+
			"<b>From:</b> <code>%s</code>\n"+
			"<b>To:</b> <code>%s</code>\n"+
			"<b>Subject:</b> %s\n\n"+
			"<pre>%s</pre>",
		time.Now().Format("2006-01-02 15:04:05"),
		html.EscapeString(sender),
		html.EscapeString(strings.Join(recipients, ", ")),
		html.EscapeString(subject),
		html.EscapeString(body))
}
