// Package bot implements the Telegram registration command surface.
package bot

import (
	"errors"
	"fmt"
	"html"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/registry"
)

// Service validates registration commands and maps registry outcomes to
// user-facing replies.  It owns no state beyond the registry handle.
type Service struct {
	reg    *registry.Registry
	domain string
}

// NewService creates a registration service issuing addresses under domain.
func NewService(reg *registry.Registry, domain string) *Service {
	return &Service{reg: reg, domain: domain}
}

// HandleCreate processes a /create command for chatID.  args are the tokens
// following the command; exactly one (the nickname) is required.  The return
// value is the HTML-formatted reply to show the user.
func (s *Service) HandleCreate(chatID int64, args []string) string {
	if len(args) != 1 {
		return "Usage: /create nickname\nExample: /create john"
	}
	nickname := args[0]
	err := s.reg.Register(nickname, chatID)
	switch {
	case errors.Is(err, registry.ErrInvalidName):
		return "Invalid nickname. It must be 3-30 characters long, contain only " +
			"lowercase letters, digits, underscores or hyphens, and cannot start " +
			"or end with a special character."
	case errors.Is(err, registry.ErrNameTaken):
		return fmt.Sprintf("Nickname <b>%s</b> is already taken. Choose another one.",
			html.EscapeString(nickname))
	case errors.Is(err, registry.ErrDestinationBound):
		return "You already have an email address. Only one address per chat is " +
			"allowed.\nYou can create a new one after the current address expires."
	case err != nil:
		return "Registration failed, please try again later."
	}
	return fmt.Sprintf("Created <b>%s@%s</b> email address.\n"+
		"All emails sent to this address will be forwarded to this chat.",
		html.EscapeString(nickname), s.domain)
}
