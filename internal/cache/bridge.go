package cache

import (
	"fmt"
	"time"

	"github.com/Will-Luck/Preauth-Sentinel/internal/logging"
	"github.com/Will-Luck/Preauth-Sentinel/internal/metrics"
)

// Pair binds a volatile pool to its durable counterpart.
type Pair struct {
	Name     string
	Volatile *Tracked
	Durable  *Tracked
}

// Bridge synchronizes volatile pools with their durable counterparts so the
// gateway resumes where it left off after a restart. Boot runs once before any
// request is served; Persist runs at shutdown (and optionally on a schedule)
// and skips pools that have not changed.
type Bridge struct {
	pairs []Pair
	log   *logging.Logger
}

// NewBridge creates a bridge over the given pool pairs.
func NewBridge(log *logging.Logger, pairs ...Pair) *Bridge {
	return &Bridge{pairs: pairs, log: log}
}

// Boot warms each empty volatile pool from its durable counterpart. A volatile
// pool is considered warm as soon as it holds any key, so a crash-restart loop
// cannot overwrite live state with a stale snapshot.
func (b *Bridge) Boot() error {
	for _, p := range b.pairs {
		keys, err := p.Volatile.Keys()
		if err != nil {
			return fmt.Errorf("boot %s: %w", p.Name, err)
		}
		if len(keys) > 0 {
			continue
		}
		n, err := copyEntries(p.Durable, p.Volatile)
		if err != nil {
			return fmt.Errorf("boot %s: %w", p.Name, err)
		}
		if err := p.Volatile.MarkClean(); err != nil {
			return fmt.Errorf("boot %s: %w", p.Name, err)
		}
		b.log.Info("cache warmed from durable store", "pool", p.Name, "entries", n)
	}
	return nil
}

// Persist snapshots each dirty volatile pool into its durable counterpart.
// Clean pools are left untouched, so boot-then-persist with no intervening
// writes never rewrites the durable store.
func (b *Bridge) Persist() error {
	start := time.Now()
	for _, p := range b.pairs {
		dirty, err := p.Volatile.IsDirty()
		if err != nil {
			return fmt.Errorf("persist %s: %w", p.Name, err)
		}
		if !dirty {
			continue
		}
		// Clean first: writes racing with the snapshot re-dirty the pool and
		// are picked up by the next Persist.
		if err := p.Volatile.MarkClean(); err != nil {
			return fmt.Errorf("persist %s: %w", p.Name, err)
		}
		if err := p.Durable.Clear(); err != nil {
			return fmt.Errorf("persist %s: %w", p.Name, err)
		}
		n, err := copyEntries(p.Volatile, p.Durable)
		if err != nil {
			return fmt.Errorf("persist %s: %w", p.Name, err)
		}
		b.log.Info("cache persisted to durable store", "pool", p.Name, "entries", n)
	}
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	return nil
}

// copyEntries copies every live entry from src to dst, preserving absolute
// expiry. Entries that expired since registration are skipped.
func copyEntries(src, dst *Tracked) (int, error) {
	keys, err := src.Keys()
	if err != nil {
		return 0, err
	}
	copied := 0
	for _, key := range keys {
		e, ok, err := src.Get(key)
		if err != nil {
			return copied, err
		}
		if !ok {
			continue
		}
		if err := dst.Set(key, e); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}
