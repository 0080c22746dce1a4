package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessDefaults(t *testing.T) {
	t.Setenv("FORWARDER_TELEGRAM_TOKEN", "TESTTOKEN")

	c, err := Process()
	require.NoError(t, err)
	assert.Equal(t, ModeRegistry, c.Mode)
	assert.Equal(t, "localhost", c.Domain)
	assert.Equal(t, "0.0.0.0:2500", c.SMTP.Addr)
	assert.Equal(t, 10, c.SMTP.MaxRecipients)
	assert.Equal(t, 1500, c.SMTP.MaxBodyChars)
	assert.Equal(t, "https://api.telegram.org", c.Telegram.APIRoot)
	assert.Equal(t, 30*time.Minute, c.Registry.TTL)
	assert.Equal(t, 10000, c.Registry.MaxEntries)
	assert.Equal(t, "0.0.0.0:9000", c.Web.Addr)
}

func TestProcessMissingToken(t *testing.T) {
	t.Setenv("FORWARDER_TELEGRAM_TOKEN", "")
	_, err := Process()
	assert.Error(t, err)
}

func TestProcessModeNormalized(t *testing.T) {
	t.Setenv("FORWARDER_TELEGRAM_TOKEN", "TESTTOKEN")
	t.Setenv("FORWARDER_MODE", "Registry")

	c, err := Process()
	require.NoError(t, err)
	assert.Equal(t, ModeRegistry, c.Mode)
}

func TestProcessInvalidMode(t *testing.T) {
	t.Setenv("FORWARDER_TELEGRAM_TOKEN", "TESTTOKEN")
	t.Setenv("FORWARDER_MODE", "bogus")

	_, err := Process()
	assert.Error(t, err)
}

func TestProcessBroadcastRequiresChat(t *testing.T) {
	t.Setenv("FORWARDER_TELEGRAM_TOKEN", "TESTTOKEN")
	t.Setenv("FORWARDER_MODE", "broadcast")

	_, err := Process()
	assert.Error(t, err)

	t.Setenv("FORWARDER_TELEGRAM_BROADCASTCHATID", "777")
	c, err := Process()
	require.NoError(t, err)
	assert.Equal(t, int64(777), c.Telegram.BroadcastChatID)
}
