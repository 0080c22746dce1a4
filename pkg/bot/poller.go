package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/config"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/notify"
)

// pollErrorDelay is how long the poller sleeps after a failed getUpdates
// call before retrying.
const pollErrorDelay = 5 * time.Second

// update is one entry from the Bot API getUpdates result.
type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	Text string `json:"text"`
	Chat chat   `json:"chat"`
}

type chat struct {
	ID int64 `json:"id"`
}

type updatesResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description"`
	Result      []update `json:"result"`
}

// Poller long-polls the Bot API for commands and feeds them to the Service.
type Poller struct {
	client      *resty.Client
	service     *Service
	sender      notify.Sender
	pollTimeout time.Duration
	offset      int64
}

// NewPoller creates a Poller for the configured bot.
func NewPoller(cfg config.Telegram, service *Service, sender notify.Sender) *Poller {
	client := resty.New().
		SetBaseURL(cfg.APIRoot + "/bot" + cfg.Token).
		// The request blocks server side for the poll duration.
		SetTimeout(cfg.PollTimeout + cfg.Timeout)
	return &Poller{
		client:      client,
		service:     service,
		sender:      sender,
		pollTimeout: cfg.PollTimeout,
	}
}

// Run polls for updates until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	plog := log.With().Str("module", "bot").Logger()
	plog.Info().Msg("Registration bot polling for commands")
	for {
		select {
		case <-ctx.Done():
			plog.Debug().Msg("Registration bot shut down")
			return
		default:
		}
		updates, err := p.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			plog.Error().Err(err).Msg("Failed to fetch updates")
			select {
			case <-ctx.Done():
			case <-time.After(pollErrorDelay):
			}
			continue
		}
		for _, u := range updates {
			p.offset = u.UpdateID + 1
			p.handle(ctx, u, plog)
		}
	}
}

// fetchUpdates performs one getUpdates long poll.
func (p *Poller) fetchUpdates(ctx context.Context) ([]update, error) {
	var res updatesResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset":          strconv.FormatInt(p.offset, 10),
			"timeout":         strconv.Itoa(int(p.pollTimeout / time.Second)),
			"allowed_updates": `["message"]`,
		}).
		SetResult(&res).
		SetError(&res).
		Get("/getUpdates")
	if err != nil {
		return nil, err
	}
	if resp.IsError() || !res.OK {
		desc := res.Description
		if desc == "" {
			desc = resp.Status()
		}
		return nil, fmt.Errorf("getUpdates: %s", desc)
	}
	return res.Result, nil
}

// handle routes one update to the registration service.
func (p *Poller) handle(ctx context.Context, u update, plog zerolog.Logger) {
	if u.Message == nil {
		return
	}
	fields := strings.Fields(u.Message.Text)
	if len(fields) == 0 {
		return
	}
	// Commands may be addressed to the bot as /create@botname.
	cmd := fields[0]
	if idx := strings.IndexByte(cmd, '@'); idx >= 0 {
		cmd = cmd[:idx]
	}
	if cmd != "/create" {
		return
	}
	chatID := u.Message.Chat.ID
	reply := p.service.HandleCreate(chatID, fields[1:])
	if err := p.sender.Send(ctx, chatID, reply); err != nil {
		plog.Error().Int64("chat", chatID).Err(err).Msg("Failed to send reply")
	}
}
