package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBuffer      = 256
	defaultWorkers     = 2
	defaultSendTimeout = 10 * time.Second
)

// Dispatcher 异步发送邮件：有界缓冲 + 固定 worker。
// Enqueue 不阻塞，缓冲满时丢弃并记日志，抽奖请求不会因为邮件变慢。
type Dispatcher struct {
	sender  Sender
	queue   chan Message
	workers int
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, buffer, workers int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Message, buffer),
		workers: workers,
		timeout: defaultSendTimeout,
	}
}

// Start launches the workers. They exit when Close drains the queue.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Enqueue reports whether the message was accepted.
func (d *Dispatcher) Enqueue(msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		zap.S().Warnw("dispatcher closed, dropping email", "kind", msg.Kind, "to", msg.To, "id", msg.ID)
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		zap.S().Errorw("email queue full, dropping email", "error_kind", KindFailure, "kind", msg.Kind, "to", msg.To, "id", msg.ID)
		return false
	}
}

// Close stops accepting messages and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sender.Send(ctx, msg); err != nil {
			zap.S().Errorw("email send failed", "error_kind", KindFailure, "kind", msg.Kind, "to", msg.To, "id", msg.ID, "error", err)
		}
		cancel()
	}
}
