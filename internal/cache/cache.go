// Package cache provides the expiring LRU used to memoise predictions and
// the background sweeper that drops expired entries.
package cache

import (
	"context"
	"time"

	"spendcast/internal/log"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// DeletePrefix removes every key starting with prefix and returns the
	// number removed.
	DeletePrefix(prefix string) int
	Size() int
}

// Cleaner interface for caches that support cleanup
type Cleaner interface {
	CleanExpired() int
}

// Sweeper periodically removes expired entries from registered caches.
type Sweeper struct {
	caches []Cleaner
	logger *log.Logger
}

func NewSweeper(logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.Discard()
	}
	return &Sweeper{logger: logger.WithComponent(log.ComponentCache)}
}

// Register adds a cache to the sweep. Not safe once Run has started.
func (s *Sweeper) Register(c Cleaner) {
	s.caches = append(s.caches, c)
}

// Sweep cleans every registered cache once.
func (s *Sweeper) Sweep() int {
	total := 0
	for _, c := range s.caches {
		total += c.CleanExpired()
	}
	return total
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("Expired cache entries removed", "removed", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
