package notify

import (
	"context"
	"expvar"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Length of the dispatcher operation queue.
const opChanLen = 100

// sendTimeout bounds a single chat delivery attempt.
const sendTimeout = 30 * time.Second

var (
	expDispatchedTotal = new(expvar.Int)
	expSendErrorsTotal = new(expvar.Int)
)

func init() {
	m := expvar.NewMap("notify")
	m.Set("DispatchedTotal", expDispatchedTotal)
	m.Set("SendErrorsTotal", expSendErrorsTotal)
}

// Payload is one rendered notification bound for a single chat.
type Payload struct {
	ChatID int64
	Text   string
}

// Dispatcher delivers payloads asynchronously so a slow chat send never
// stalls the SMTP session that produced it.  Delivery is at-most-once; send
// failures are logged and dropped.
type Dispatcher struct {
	sender Sender
	opChan chan func(d *Dispatcher) // operations queued for this actor
	wg     sync.WaitGroup           // tracks in-flight deliveries
}

// NewDispatcher creates a Dispatcher delivering through sender.
func NewDispatcher(sender Sender) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		opChan: make(chan func(d *Dispatcher), opChanLen),
	}
}

// Start runs the dispatcher processing loop until ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(d.opChan)
			return
		case op := <-d.opChan:
			op(d)
		}
	}
}

// Dispatch queues a payload for delivery.  Each delivery runs independently;
// one failure has no effect on other queued payloads.
func (d *Dispatcher) Dispatch(p Payload) {
	d.opChan <- func(d *Dispatcher) {
		d.wg.Add(1)
		go d.deliver(p)
	}
}

// deliver performs one send attempt.
func (d *Dispatcher) deliver(p Payload) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	expDispatchedTotal.Add(1)
	if err := d.sender.Send(ctx, p.ChatID, p.Text); err != nil {
		expSendErrorsTotal.Add(1)
		log.Error().Str("module", "notify").Int64("chat", p.ChatID).Err(err).
			Msg("Failed to deliver notification")
	}
}

// Sync blocks until the dispatcher has processed its queue up to this point
// and all deliveries started so far have finished, useful for unit tests.
func (d *Dispatcher) Sync() {
	done := make(chan struct{})
	d.opChan <- func(d *Dispatcher) {
		close(done)
	}
	<-done
	d.wg.Wait()
}

// Drain blocks until all in-flight deliveries have finished.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}
