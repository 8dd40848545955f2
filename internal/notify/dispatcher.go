package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/metrics"
)

// Dispatcher sends messages from a background goroutine so slow or failing
// transports never hold up a request. When the queue is full the message is
// dropped and logged.
type Dispatcher struct {
	sender    Sender
	timeout   time.Duration
	logger    *zap.Logger
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher with the given queue size and per-send timeout
func NewDispatcher(sender Sender, queueSize int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		sender:  sender,
		timeout: timeout,
		logger:  logger.Named("notify"),
		ch:      make(chan Message, queueSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

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
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg.Subject, msg.Recipient, msg.Body); err != nil {
		d.failed.Add(1)
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		d.logger.Warn("notification delivery failed",
			zap.String("subject", msg.Subject),
			zap.String("recipient", msg.Recipient),
			zap.Error(err),
		)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
}

// Enqueue queues msg without blocking
func (d *Dispatcher) Enqueue(msg Message) {
	if d == nil || d.closed.Load() {
		return
	}

	select {
	case d.ch <- msg:
	case <-d.done:
	default:
		d.dropped.Add(1)
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("notification queue full, dropping message",
			zap.String("subject", msg.Subject),
			zap.String("recipient", msg.Recipient),
		)
	}
}

// Close stops accepting messages and drains the queue
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many messages were dropped on a full queue
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Failed returns how many deliveries returned an error
func (d *Dispatcher) Failed() uint64 {
	return d.failed.Load()
}
