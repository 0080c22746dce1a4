package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/config"
)

// ErrTransport indicates a chat delivery failure.  Deliveries are best
// effort; callers log these and move on.
var ErrTransport = errors.New("telegram send failed")

// Sender delivers notification text to a chat.  The rest of the system
// treats delivery as an opaque network sink.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Telegram is a Sender backed by the Telegram Bot API.
type Telegram struct {
	client *resty.Client
}

// apiResponse is the generic Bot API response envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegram creates a Bot API Sender from the Telegram configuration.
func NewTelegram(cfg config.Telegram) *Telegram {
	client := resty.New().
		SetBaseURL(cfg.APIRoot + "/bot" + cfg.Token).
		SetTimeout(cfg.Timeout)
	return &Telegram{client: client}
}

// Send posts text to chatID using HTML parse mode.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	var res apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":                  strconv.FormatInt(chatID, 10),
			"text":                     text,
			"parse_mode":               "HTML",
			"disable_web_page_preview": "true",
		}).
		SetResult(&res).
		SetError(&res).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.IsError() || !res.OK {
		desc := res.Description
		if desc == "" {
			desc = resp.Status()
		}
		return fmt.Errorf("%w: %s", ErrTransport, desc)
	}
	return nil
}
