package bus

import (
	"sync"
	"time"
)

// InboundDebouncer merges rapid messages from the same sender in the
// same thread into one inbound message, so someone typing a question
// across three quick messages gets one answer instead of three.
type InboundDebouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	flush   func(InboundMessage)
	pending map[string]*pendingInbound
	stopped bool
}

type pendingInbound struct {
	msg   InboundMessage
	timer *time.Timer
}

// NewInboundDebouncer calls flush with the merged message after delay
// of quiet time. A non-positive delay disables merging; every message
// flushes immediately.
func NewInboundDebouncer(delay time.Duration, flush func(InboundMessage)) *InboundDebouncer {
	return &InboundDebouncer{
		delay:   delay,
		flush:   flush,
		pending: make(map[string]*pendingInbound),
	}
}

// Push adds a message to its sender's pending batch and restarts the
// quiet-time timer.
func (d *InboundDebouncer) Push(msg InboundMessage) {
	if d.delay <= 0 {
		d.flush(msg)
		return
	}

	key := msg.ThreadKey + "|" + msg.SenderID

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.flush(msg)
		return
	}

	if p, ok := d.pending[key]; ok {
		p.msg.Content += "\n" + msg.Content
		// Latest metadata wins so placeholder references stay current.
		if msg.Metadata != nil {
			p.msg.Metadata = msg.Metadata
		}
		p.timer.Reset(d.delay)
		d.mu.Unlock()
		return
	}

	p := &pendingInbound{msg: msg}
	p.timer = time.AfterFunc(d.delay, func() { d.emit(key) })
	d.pending[key] = p
	d.mu.Unlock()
}

func (d *InboundDebouncer) emit(key string) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()

	if ok {
		d.flush(p.msg)
	}
}

// Stop flushes all pending batches synchronously. Messages received
// after Stop bypass merging.
func (d *InboundDebouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	batches := make([]*pendingInbound, 0, len(d.pending))
	for key, p := range d.pending {
		p.timer.Stop()
		batches = append(batches, p)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, p := range batches {
		d.flush(p.msg)
	}
}
