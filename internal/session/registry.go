package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry tracks live calls for status listing, shutdown draining and the
// optional duration/idle limits. It holds no per-call relay state.
type Registry struct {
	mu          sync.RWMutex
	calls       map[string]*registryEntry
	wg          sync.WaitGroup
	maxDuration time.Duration
	idleTimeout time.Duration
	onExpire    func(s *CallSession, reason string)
}

type registryEntry struct {
	session *CallSession
	cancel  func()
	once    sync.Once
	expired bool
}

// NewRegistry returns a registry. Zero limits disable the janitor checks.
func NewRegistry(maxDuration, idleTimeout time.Duration) *Registry {
	return &Registry{
		calls:       make(map[string]*registryEntry),
		maxDuration: maxDuration,
		idleTimeout: idleTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(s *CallSession, reason string)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Register adds a live call. cancel must begin the call's teardown.
func (r *Registry) Register(s *CallSession, cancel func()) (unregister func()) {
	if r == nil || s == nil {
		return func() {}
	}
	entry := &registryEntry{session: s, cancel: cancel}

	r.mu.Lock()
	r.calls[s.ID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	return func() {
		entry.once.Do(func() {
			r.mu.Lock()
			if r.calls[s.ID] == entry {
				delete(r.calls, s.ID)
			}
			r.mu.Unlock()
			r.wg.Done()
		})
	}
}

func (r *Registry) Get(sessionID string) (Info, error) {
	if r == nil {
		return Info{}, ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.calls[sessionID]
	if !ok {
		return Info{}, ErrNotFound
	}
	return entry.session.Snapshot(), nil
}

// List returns snapshots of all live calls, oldest first.
func (r *Registry) List() []Info {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]Info, 0, len(r.calls))
	for _, entry := range r.calls {
		out = append(out, entry.session.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Registry) ActiveCount() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// CancelAll begins teardown of every live call.
func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}
	var cancels []func()
	r.mu.RLock()
	for _, entry := range r.calls {
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
	}
	r.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered call has unregistered or ctx ends.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if r == nil || (r.maxDuration <= 0 && r.idleTimeout <= 0) {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expire(time.Now().UTC())
			}
		}
	}()
}

func (r *Registry) expire(now time.Time) {
	type expiredCall struct {
		entry  *registryEntry
		reason string
	}
	var expired []expiredCall

	r.mu.Lock()
	for _, entry := range r.calls {
		if entry.expired {
			continue
		}
		s := entry.session
		switch {
		case r.maxDuration > 0 && now.Sub(s.CreatedAt) >= r.maxDuration:
			expired = append(expired, expiredCall{entry: entry, reason: "max_duration"})
		case r.idleTimeout > 0 && now.Sub(s.LastActivityAt()) >= r.idleTimeout:
			expired = append(expired, expiredCall{entry: entry, reason: "idle_timeout"})
		default:
			continue
		}
		entry.expired = true
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, e := range expired {
		if hook != nil {
			hook(e.entry.session, e.reason)
		}
		if e.entry.cancel != nil {
			e.entry.cancel()
		}
	}
}
