package mailer

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/metrics"
)

// sendTimeout bounds a single delivery attempt.
const sendTimeout = 30 * time.Second

// Dispatcher queues messages and delivers them from a fixed set of workers.
// Delivery errors are logged and counted; they never reach the caller.
type Dispatcher struct {
	sender  Sender
	logger  logging.Logger
	metrics *metrics.Metrics

	ch   chan Message
	done chan struct{}
	wg   sync.WaitGroup

	// mu orders sends against Close so nothing lands in ch after the
	// workers were told to drain.
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sender Sender, workers, queueSize int, logger logging.Logger, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	d := &Dispatcher{
		sender:  sender,
		logger:  logger.With("module", "mailer"),
		metrics: m,
		ch:      make(chan Message, queueSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.run()
	}

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	err := d.sender.Send(ctx, msg)
	d.metrics.MailDelivery(msg.Kind, err)
	if err != nil {
		d.logger.Error(ctx, "mail delivery failed", "kind", msg.Kind, "error", err)
		return
	}
	d.logger.Debug(ctx, "mail delivered", "kind", msg.Kind)
}

// Enqueue never blocks. A full or closed queue drops the message and
// returns common.ErrDeliveryFailed.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.MailDelivery(msg.Kind, common.ErrDeliveryFailed)
		return common.ErrDeliveryFailed
	}

	select {
	case d.ch <- msg:
		return nil
	default:
		d.metrics.MailDelivery(msg.Kind, common.ErrDeliveryFailed)
		d.logger.Warn(ctx, "mail queue full, message dropped", "kind", msg.Kind)
		return common.ErrDeliveryFailed
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
