package server

import (
	"context"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/bot"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/config"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/notify"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/registry"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/server/smtp"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/server/web"
)

// Services holds the configured and started services.
type Services struct {
	Registry   *registry.Registry
	Sweeper    *registry.Sweeper
	Dispatcher *notify.Dispatcher
	SMTPServer *smtp.Server
	WebServer  *web.Server
}

// Prod wires up the production forwarder environment.
func Prod(rootCtx context.Context, shutdownChan chan bool, conf *config.Root) *Services {
	sender := notify.NewTelegram(conf.Telegram)
	dispatcher := notify.NewDispatcher(sender)
	go dispatcher.Start(rootCtx)

	// The registry and its bot exist only in registry mode.
	var reg *registry.Registry
	var sweeper *registry.Sweeper
	if conf.Mode == config.ModeRegistry {
		reg = registry.New(conf.Registry.TTL, conf.Registry.MaxEntries)
		sweeper = registry.NewSweeper(reg, conf.Registry.SweepInterval, shutdownChan)
		sweeper.Start()
		poller := bot.NewPoller(conf.Telegram, bot.NewService(reg, conf.Domain), sender)
		go poller.Run(rootCtx)
	}

	// Start status server.
	webServer := web.NewServer(conf, shutdownChan, reg)
	go webServer.Start(rootCtx)

	// Start SMTP server.
	smtpServer := smtp.NewServer(conf, shutdownChan, reg, dispatcher)
	go smtpServer.Start(rootCtx)

	return &Services{
		Registry:   reg,
		Sweeper:    sweeper,
		Dispatcher: dispatcher,
		SMTPServer: smtpServer,
		WebServer:  webServer,
	}
}
