package eventbroker

import (
	"context"
	"sync"
)

// InProcess fans events out to subscribers over buffered Go channels. It
// backs the memory backend (spec.md §4.2) and is also handy in tests.
type InProcess struct {
	mu   sync.Mutex
	subs map[int]*inProcessSub
	next int
	now  func() int64
}

type inProcessSub struct {
	types []EventType
	ch    chan Envelope
}

func NewInProcess(nowUnixMillis func() int64) *InProcess {
	return &InProcess{subs: make(map[int]*inProcessSub), now: nowUnixMillis}
}

func (b *InProcess) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !matches(sub.types, env.EventType) {
			continue
		}
		select {
		case sub.ch <- env:
		default:
		}
	}
	return nil
}

func (b *InProcess) Subscribe(ctx context.Context, types ...EventType) (<-chan Envelope, error) {
	b.mu.Lock()
	id := b.next
	b.next++
	sub := &inProcessSub{types: types, ch: make(chan Envelope, 64)}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}()

	return sub.ch, nil
}

func (b *InProcess) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	return nil
}
