package auth

import (
	"context"
	"sync"
	"time"
)

// RevocationList remembers signed-out token ids until the tokens would have
// expired anyway.
type RevocationList struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
	cancel  context.CancelFunc
}

func NewRevocationList() *RevocationList {
	return &RevocationList{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (l *RevocationList) Revoke(id string, until time.Time) {
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[id] = until
}

func (l *RevocationList) Revoked(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	until, ok := l.revoked[id]
	return ok && l.now().Before(until)
}

// Sweep drops entries past their expiry and returns how many were dropped.
func (l *RevocationList) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for id, until := range l.revoked {
		if !now.Before(until) {
			delete(l.revoked, id)
			n++
		}
	}
	return n
}

func (l *RevocationList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.revoked)
}

// Start sweeps every interval until Stop or ctx ends.
func (l *RevocationList) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

func (l *RevocationList) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
