package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/registry"
)

func testService() (*Service, *registry.Registry) {
	reg := registry.New(30*time.Minute, 100)
	return NewService(reg, "forwarder.example"), reg
}

func TestHandleCreateUsage(t *testing.T) {
	svc, _ := testService()
	want := "Usage: /create nickname\nExample: /create john"
	assert.Equal(t, want, svc.HandleCreate(1, nil))
	assert.Equal(t, want, svc.HandleCreate(1, []string{"john", "extra"}))
}

func TestHandleCreateSuccess(t *testing.T) {
	svc, reg := testService()
	reply := svc.HandleCreate(42, []string{"john"})
	assert.Contains(t, reply, "Created <b>john@forwarder.example</b>")
	assert.Contains(t, reply, "forwarded to this chat")

	chatID, ok := reg.Lookup("john")
	require.True(t, ok)
	assert.Equal(t, int64(42), chatID)
}

func TestHandleCreateInvalidName(t *testing.T) {
	svc, reg := testService()
	reply := svc.HandleCreate(42, []string{"Jo"})
	assert.Contains(t, reply, "Invalid nickname")
	assert.Equal(t, 0, reg.Len())
}

func TestHandleCreateNameTaken(t *testing.T) {
	svc, _ := testService()
	svc.HandleCreate(42, []string{"john"})
	reply := svc.HandleCreate(43, []string{"john"})
	assert.Contains(t, reply, "Nickname <b>john</b> is already taken")
}

func TestHandleCreateDestinationBound(t *testing.T) {
	svc, reg := testService()
	svc.HandleCreate(42, []string{"john"})
	reply := svc.HandleCreate(42, []string{"johnny"})
	assert.Contains(t, reply, "You already have an email address")
	assert.Equal(t, 1, reg.Len())
}
