// Package config holds the process configuration, loaded from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	prefix      = "forwarder"
	tableFormat = `The mail forwarder is configured via the environment. The following
environment variables can be used:

KEY	DEFAULT	REQUIRED	DESCRIPTION
{{range .}}{{usage_key .}}	{{usage_default .}}	{{usage_required .}}	{{usage_description .}}
{{end}}`
)

// Operating modes.
const (
	// ModeRegistry forwards mail to the chat bound to each recipient nickname.
	ModeRegistry = "registry"
	// ModeBroadcast forwards all mail to one fixed chat.
	ModeBroadcast = "broadcast"
)

var (
	// Version of this build, set by main
	Version = ""

	// BuildDate for this build, set by main
	BuildDate = ""
)

// Root wraps all other configurations.
type Root struct {
	LogLevel string `required:"true" default:"info" desc:"debug, info, warn, or error"`
	Mode     string `required:"true" default:"registry" desc:"registry or broadcast"`
	Domain   string `required:"true" default:"localhost" desc:"Domain suffix for forwarding addresses"`
	SMTP     SMTP
	Telegram Telegram
	Registry Registry
	Web      Web
}

// SMTP contains the SMTP server configuration.
type SMTP struct {
	Addr            string        `required:"true" default:"0.0.0.0:2500" desc:"SMTP server IP4 host:port"`
	MaxRecipients   int           `required:"true" default:"10" desc:"Maximum RCPT TO per message"`
	MaxMessageBytes int           `required:"true" default:"2048000" desc:"Maximum message size"`
	Timeout         time.Duration `required:"true" default:"300s" desc:"Idle network timeout"`
	MaxBodyChars    int           `default:"1500" desc:"Notification body limit, 0 for unlimited"`
	Debug           bool          `default:"false" desc:"Dump SMTP network traffic to stdout"`
}

// Telegram contains the Bot API client configuration.
type Telegram struct {
	Token           string        `required:"true" desc:"Telegram bot token"`
	APIRoot         string        `required:"true" default:"https://api.telegram.org" desc:"Bot API base URL"`
	Timeout         time.Duration `required:"true" default:"30s" desc:"Bot API request timeout"`
	PollTimeout     time.Duration `required:"true" default:"30s" desc:"getUpdates long poll duration"`
	BroadcastChatID int64         `desc:"Fixed chat ID for broadcast mode"`
}

// Registry contains the nickname registry configuration.
type Registry struct {
	TTL           time.Duration `required:"true" default:"1800s" desc:"Binding time to live"`
	MaxEntries    int           `required:"true" default:"10000" desc:"Maximum live bindings"`
	SweepInterval time.Duration `required:"true" default:"60s" desc:"Expired binding sweep interval"`
}

// Web contains the status server configuration.
type Web struct {
	Addr string `required:"true" default:"0.0.0.0:9000" desc:"Status server IP4 host:port"`
}

// Process loads and parses configuration from the environment.
func Process() (*Root, error) {
	c := &Root{}
	if err := envconfig.Process(prefix, c); err != nil {
		return nil, err
	}
	c.Mode = strings.ToLower(c.Mode)
	switch c.Mode {
	case ModeRegistry:
	case ModeBroadcast:
		if c.Telegram.BroadcastChatID == 0 {
			return nil, fmt.Errorf("broadcast mode requires FORWARDER_TELEGRAM_BROADCASTCHATID")
		}
	default:
		return nil, fmt.Errorf("mode %q not one of: registry, broadcast", c.Mode)
	}
	return c, nil
}

// Usage prints out the envconfig usage to Stderr.
func Usage() {
	tabs := tabwriter.NewWriter(os.Stderr, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef(prefix, &Root{}, tabs, tableFormat); err != nil {
		log.Fatalf("Unable to parse env config: %v", err)
	}
	tabs.Flush()
}
