package cache

import (
	"encoding/json"
	"fmt"
)

const (
	keyListKey = "__key_list"
	isDirtyKey = "__is_dirty"
)

// Tracked wraps a Pool with a registry of live user keys and a dirty flag, the
// bookkeeping the persistence bridge needs to snapshot a pool without
// enumerating the backing store. The registry lives in the wrapped pool under
// two reserved keys that the normal Get/Set/Delete surface refuses to touch.
//
// The registry is re-read from the pool on every call rather than cached here,
// because several Tracked values may wrap the same pool.
type Tracked struct {
	pool Pool
}

// NewTracked wraps pool, initializing the registry if either reserved key is
// missing.
func NewTracked(pool Pool) (*Tracked, error) {
	t := &Tracked{pool: pool}
	for _, key := range []string{keyListKey, isDirtyKey} {
		if _, ok, err := pool.Get(key); err != nil {
			return nil, err
		} else if !ok {
			if err := t.initialize(); err != nil {
				return nil, err
			}
			break
		}
	}
	return t, nil
}

func (t *Tracked) initialize() error {
	if err := t.writeKeyList(map[string]bool{}); err != nil {
		return err
	}
	return t.writeDirty(false)
}

func (t *Tracked) Get(key string) (Entry, bool, error) {
	if key == keyListKey || key == isDirtyKey {
		return Entry{}, false, ErrReservedKey
	}
	return t.pool.Get(key)
}

func (t *Tracked) Set(key string, e Entry) error {
	if key == keyListKey || key == isDirtyKey {
		return ErrReservedKey
	}
	keys, err := t.readKeyList()
	if err != nil {
		return err
	}
	keys[key] = true
	if err := t.writeKeyList(keys); err != nil {
		return err
	}
	if err := t.writeDirty(true); err != nil {
		return err
	}
	return t.pool.Set(key, e)
}

func (t *Tracked) Delete(key string) error {
	if key == keyListKey || key == isDirtyKey {
		return ErrReservedKey
	}
	keys, err := t.readKeyList()
	if err != nil {
		return err
	}
	if keys[key] {
		delete(keys, key)
		if err := t.writeKeyList(keys); err != nil {
			return err
		}
		if err := t.writeDirty(true); err != nil {
			return err
		}
	}
	return t.pool.Delete(key)
}

// Keys lists registered keys. Unlike the wrapped pool's Keys, this reflects
// the registry: entries that expired since registration still appear here
// until reclaimed, and read back as misses.
func (t *Tracked) Keys() ([]string, error) {
	m, err := t.readKeyList()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys, nil
}

// Clear empties the wrapped pool and reinitializes the registry.
func (t *Tracked) Clear() error {
	keys, err := t.Keys()
	if err != nil {
		return err
	}
	// Only bother clearing the pool if it is not empty.
	if len(keys) == 0 {
		return nil
	}
	if err := t.pool.Clear(); err != nil {
		return err
	}
	return t.initialize()
}

// IsDirty reports whether the pool has been written to since the last
// MarkClean. Used by the persistence bridge only.
func (t *Tracked) IsDirty() (bool, error) {
	e, ok, err := t.pool.Get(isDirtyKey)
	if err != nil || !ok {
		return false, err
	}
	var dirty bool
	if err := json.Unmarshal(e.Value, &dirty); err != nil {
		return false, fmt.Errorf("unmarshal dirty flag: %w", err)
	}
	return dirty, nil
}

// MarkClean resets the dirty flag. Used by the persistence bridge only.
func (t *Tracked) MarkClean() error {
	return t.writeDirty(false)
}

func (t *Tracked) readKeyList() (map[string]bool, error) {
	e, ok, err := t.pool.Get(keyListKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]bool{}, nil
	}
	var keys map[string]bool
	if err := json.Unmarshal(e.Value, &keys); err != nil {
		return nil, fmt.Errorf("unmarshal key list: %w", err)
	}
	if keys == nil {
		keys = map[string]bool{}
	}
	return keys, nil
}

func (t *Tracked) writeKeyList(keys map[string]bool) error {
	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("marshal key list: %w", err)
	}
	return t.pool.Set(keyListKey, Entry{Value: data})
}

func (t *Tracked) writeDirty(dirty bool) error {
	data, err := json.Marshal(dirty)
	if err != nil {
		return fmt.Errorf("marshal dirty flag: %w", err)
	}
	return t.pool.Set(isDirtyKey, Entry{Value: data})
}
