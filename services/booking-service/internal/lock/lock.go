// Package lock serializes booking commits per resource inside one process.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
)

type Manager struct {
	timeout time.Duration

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Manager{timeout: timeout, sems: make(map[string]*semaphore.Weighted)}
}

// Acquire takes the locks for ids in sorted order, waiting at most the
// configured timeout overall. On expiry it returns model.ErrTimeout; a
// cancelled ctx returns ctx.Err(). The release func is safe to call once.
func (m *Manager) Acquire(ctx context.Context, ids []string) (func(), error) {
	keys := normalize(ids)
	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	held := make([]*semaphore.Weighted, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for _, key := range keys {
		sem := m.semaphore(key)
		if err := sem.Acquire(waitCtx, 1); err != nil {
			release()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waiting for resource %s", model.ErrTimeout, key)
			}
			return nil, err
		}
		held = append(held, sem)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (m *Manager) semaphore(key string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		m.sems[key] = sem
	}
	return sem
}

func normalize(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
