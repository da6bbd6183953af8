package v1

import (
	"context"
	"errors"
	"log"
	"sync"

	"servicecatalog-cron/models"
)

const maxDeliveryFailures = 100

var (
	errQueueFull         = errors.New("notification queue full")
	errDispatcherStopped = errors.New("dispatcher stopped")
	errNoSender          = errors.New("no sender for channel")
)

// Sender delivers one notification on one channel.
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// Dispatcher queues notifications and delivers them from a worker pool,
// retrying each delivery with backoff. Failures end as logged
// DeliveryErrors and never flow back into health accounting.
type Dispatcher struct {
	senders map[models.Channel]Sender
	retry   RetryPolicy
	queue   chan models.Notification
	workers int

	qmu    sync.RWMutex
	closed bool

	wg       sync.WaitGroup
	mu       sync.Mutex
	failures []*DeliveryError
	onResult func(models.Notification, error)
}

func NewDispatcher(senders map[models.Channel]Sender, retry RetryPolicy, queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		senders: senders,
		retry:   retry,
		queue:   make(chan models.Notification, queueSize),
		workers: workers,
	}
}

// OnResult registers a callback invoked after every final delivery attempt.
func (d *Dispatcher) OnResult(fn func(models.Notification, error)) {
	d.onResult = fn
}

// Start launches the delivery workers. Cancelling ctx does not abort
// accepted notifications; the workers run until Stop drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	deliverCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for n := range d.queue {
				d.deliver(deliverCtx, n)
			}
		}()
	}
}

// Stop refuses new notifications and blocks until everything already
// accepted has been delivered or has exhausted its retries.
func (d *Dispatcher) Stop() {
	d.qmu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.qmu.Unlock()
	d.wg.Wait()
}

// Enqueue accepts n for delivery without waiting. A full queue is reported
// as a DeliveryError so the caller can retry later instead of blocking.
func (d *Dispatcher) Enqueue(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := d.senders[n.Channel]; !ok {
		return &DeliveryError{Channel: n.Channel, Destination: n.Destination, Err: errNoSender}
	}
	d.qmu.RLock()
	defer d.qmu.RUnlock()
	if d.closed {
		return &DeliveryError{Channel: n.Channel, Destination: n.Destination, Err: errDispatcherStopped}
	}
	select {
	case d.queue <- n:
		return nil
	default:
		return &DeliveryError{Channel: n.Channel, Destination: n.Destination, Err: errQueueFull}
	}
}

// Deliver sends n synchronously with retries.
func (d *Dispatcher) Deliver(ctx context.Context, n models.Notification) error {
	return d.deliver(ctx, n)
}

func (d *Dispatcher) deliver(ctx context.Context, n models.Notification) error {
	sender, ok := d.senders[n.Channel]
	var err error
	if !ok {
		err = errNoSender
	} else {
		err = Retry(ctx, d.retry, func() error {
			return sender.Send(ctx, n)
		})
	}
	if err != nil {
		derr := &DeliveryError{Channel: n.Channel, Destination: n.Destination, Err: err}
		log.Printf("[NOTIFY] %v", derr)
		d.mu.Lock()
		d.failures = append(d.failures, derr)
		if len(d.failures) > maxDeliveryFailures {
			d.failures = d.failures[len(d.failures)-maxDeliveryFailures:]
		}
		d.mu.Unlock()
		err = derr
	} else {
		log.Printf("[NOTIFY] Delivered %s notification to %s: %s", n.Channel, n.Destination, n.Subject)
	}
	if d.onResult != nil {
		d.onResult(n, err)
	}
	return err
}

// Failures returns the deliveries that exhausted their retries.
func (d *Dispatcher) Failures() []*DeliveryError {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*DeliveryError(nil), d.failures...)
}
