package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/marketing-analyst/internal/pkg/distlock"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
)

// ErrLockTimeout is returned when a cross-process reload lock could not be
// obtained before the context ended.
var ErrLockTimeout = errors.New("dataset: timed out waiting for reload lock")

// FatalLoadError reports that the very first load failed. There is no usable
// empty state to fall back on, so callers must abort session initialization.
type FatalLoadError struct {
	Err error
}

func (e *FatalLoadError) Error() string {
	return fmt.Sprintf("dataset: initial load failed: %v", e.Err)
}

func (e *FatalLoadError) Unwrap() error { return e.Err }

// IsFatal reports whether err is (or wraps) a FatalLoadError.
func IsFatal(err error) bool {
	var fe *FatalLoadError
	return errors.As(err, &fe)
}

// Cache holds one session's snapshot. Reloads are serialized; reads run
// concurrently against the current snapshot and never observe a partial swap.
type Cache struct {
	loader Loader
	lock   distlock.DistLock

	reloadMu sync.Mutex // single writer
	mu       sync.RWMutex
	snap     *Snapshot
	now      func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithLock serializes reloads across processes sharing the backing store.
func WithLock(l distlock.DistLock) Option {
	return func(c *Cache) { c.lock = l }
}

// NewCache creates an empty cache. Nothing is read until Load or Get.
func NewCache(loader Loader, opts ...Option) *Cache {
	c := &Cache{loader: loader, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Version returns the version of the held snapshot, 0 before the first load.
func (c *Cache) Version() int64 {
	if s := c.current(); s != nil {
		return s.Version
	}
	return 0
}

// Loaded reports whether a snapshot is held.
func (c *Cache) Loaded() bool { return c.current() != nil }

// Load returns a copy of the snapshot, reading the backing store on the first
// call or when force is set. A failed reload keeps the previous snapshot; a
// failed first load returns *FatalLoadError.
func (c *Cache) Load(ctx context.Context, force bool) (*Snapshot, error) {
	if !force {
		if s := c.current(); s != nil {
			logger.Debug("dataset already loaded, using cached version", "version", s.Version)
			return s.Clone(), nil
		}
	}

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	// Another goroutine may have finished the first load while we waited.
	prev := c.current()
	if !force && prev != nil {
		return prev.Clone(), nil
	}

	snap, err := c.read(ctx)
	if err != nil {
		if prev == nil {
			logger.Error("error loading data from database", "error", err)
			return nil, &FatalLoadError{Err: err}
		}
		logger.Error("dataset reload failed, keeping previous snapshot", "version", prev.Version, "error", err)
		return nil, fmt.Errorf("dataset reload: %w", err)
	}

	snap.Version = 1
	if prev != nil {
		snap.Version = prev.Version + 1
	}
	snap.LoadedAt = c.now().UTC()

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	logger.Info("data loaded successfully",
		"version", snap.Version,
		"leads_scored", len(snap.LeadsScored),
		"transactions", len(snap.Transactions),
		"products", len(snap.Products))
	return snap.Clone(), nil
}

func (c *Cache) read(ctx context.Context) (*Snapshot, error) {
	if c.lock != nil {
		if err := acquire(ctx, c.lock); err != nil {
			return nil, err
		}
		defer func() {
			if err := c.lock.Release(context.Background()); err != nil {
				logger.Warn("failed to release dataset lock", "error", err)
			}
		}()
	}
	return c.loader.Load(ctx)
}

// acquire polls a non-blocking lock until it is obtained or ctx ends.
func acquire(ctx context.Context, l distlock.DistLock) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquiring dataset lock: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-ticker.C:
		}
	}
}

// Get returns a defensive copy of the snapshot. If nothing has been loaded
// yet it loads implicitly and logs a warning.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	if s := c.current(); s != nil {
		return s.Clone(), nil
	}
	logger.Warn("data not loaded yet, loading now")
	return c.Load(ctx, false)
}

// Refresh forces a reload. Analysis turns never call it; it exists for
// maintenance such as after a segmentation run.
func (c *Cache) Refresh(ctx context.Context) error {
	logger.Info("forcing data refresh")
	_, err := c.Load(ctx, true)
	return err
}
