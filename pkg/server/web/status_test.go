package web

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/config"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/registry"
)

func testConfig() *config.Root {
	return &config.Root{
		Mode:   config.ModeRegistry,
		Domain: "forwarder.example",
		SMTP:   config.SMTP{Addr: "127.0.0.1:2500"},
	}
}

func TestStatusHandler(t *testing.T) {
	reg := registry.New(30*time.Minute, 100)
	require.NoError(t, reg.Register("john", 42))
	handler := statusHandler(testConfig(), reg)

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got jsonStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "registry", got.Mode)
	assert.Equal(t, "forwarder.example", got.Domain)
	assert.Equal(t, "127.0.0.1:2500", got.SMTPListener)
	assert.Equal(t, 1, got.Bindings)
}

func TestStatusHandlerNilRegistry(t *testing.T) {
	conf := testConfig()
	conf.Mode = config.ModeBroadcast
	handler := statusHandler(conf, nil)

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	assert.Equal(t, 200, w.Code)
	var got jsonStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "broadcast", got.Mode)
	assert.Equal(t, 0, got.Bindings)
}
