package session

import (
	"context"
	"sync"

	"ecoroster/console/internal/auth"
)

// MemoryProvider is an in-process Provider. Changes are delivered synchronously from Set.
type MemoryProvider struct {
	mu       sync.Mutex
	identity *auth.Identity
	err      error
	nextID   int
	subs     map[int]func(*auth.Identity)
}

func NewMemoryProvider(initial *auth.Identity) *MemoryProvider {
	return &MemoryProvider{identity: initial, subs: make(map[int]func(*auth.Identity))}
}

// Set replaces the signed-in identity and notifies subscribers.
func (p *MemoryProvider) Set(id *auth.Identity) {
	p.mu.Lock()
	p.identity = id
	fns := make([]func(*auth.Identity), 0, len(p.subs))
	for i := 0; i < p.nextID; i++ {
		if fn, ok := p.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}

// Fail makes CurrentIdentity return err until called with nil.
func (p *MemoryProvider) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MemoryProvider) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *MemoryProvider) CurrentIdentity(ctx context.Context) (*auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.identity, nil
}

func (p *MemoryProvider) OnIdentityChange(ctx context.Context, fn func(*auth.Identity)) (func(), error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	unsubscribe := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()
	return unsubscribe, nil
}
