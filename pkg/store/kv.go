// Package store persists per-conversation state: watched-city lists,
// in-flight wizard records (with TTL), and calendar settings. The backing
// engine is an in-memory otter cache snapshotted to disk with gob, so a
// restart keeps conversations configured.
package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

// Entry is one stored value. A zero ExpiresAt means the entry never
// expires.
type Entry struct {
	ExpiresAt time.Time
	Data      []byte
}

// KV is a namespaced key-value store. With an empty dir it is memory-only,
// which is what the CLI and tests use.
type KV struct {
	cache      *otter.Cache[string, Entry]
	logger     *slog.Logger
	saveCancel context.CancelFunc
	dir        string
	saveWg     sync.WaitGroup
	mu         sync.Mutex
}

const snapshotFile = "tzchat-store.gob"

// Open creates the store and, when dir is non-empty, loads the previous
// snapshot and starts a periodic save goroutine bound to ctx.
func Open(ctx context.Context, dir string, logger *slog.Logger) (*KV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache := otter.Must(&otter.Options[string, Entry]{
		MaximumSize:     100_000,
		InitialCapacity: 1_000,
	})
	k := &KV{cache: cache, dir: dir, logger: logger}

	if dir == "" {
		return k, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	if err := k.loadFromDisk(); err != nil {
		logger.Warn("failed to load store snapshot", "error", err)
	}
	logger.Info("store initialized", "dir", dir, "entries", k.cache.EstimatedSize())
	k.startPeriodicSave(ctx)
	return k, nil
}

// Get returns the live value for ns/key. Expired entries read as absent.
func (k *KV) Get(ns, key string) ([]byte, bool) {
	entry, found := k.cache.GetIfPresent(ns + "/" + key)
	if !found {
		return nil, false
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		k.cache.Invalidate(ns + "/" + key)
		return nil, false
	}
	return entry.Data, true
}

// Set stores a value. ttl 0 keeps it until overwritten or deleted.
func (k *KV) Set(ns, key string, data []byte, ttl time.Duration) error {
	entry := Entry{Data: data}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl)
	}
	k.cache.Set(ns+"/"+key, entry)
	return nil
}

// Delete removes a value.
func (k *KV) Delete(ns, key string) {
	k.cache.Invalidate(ns + "/" + key)
}

func (k *KV) loadFromDisk() error {
	path := filepath.Join(k.dir, snapshotFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening store snapshot: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			k.logger.Debug("failed to close snapshot file", "error", closeErr)
		}
	}()

	var entries map[string]Entry
	if err := gob.NewDecoder(file).Decode(&entries); err != nil {
		return fmt.Errorf("decoding store snapshot: %w", err)
	}

	now := time.Now()
	loaded := 0
	for key, entry := range entries {
		if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
			continue
		}
		k.cache.Set(key, entry)
		loaded++
	}
	k.logger.Info("store snapshot loaded", "path", path, "total", len(entries), "live", loaded)
	return nil
}

func (k *KV) saveToDisk() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	path := filepath.Join(k.dir, snapshotFile)
	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	defer func() {
		if removeErr := os.Remove(tempPath); removeErr != nil && !os.IsNotExist(removeErr) {
			k.logger.Debug("failed to remove temp snapshot", "error", removeErr)
		}
	}()

	entries := make(map[string]Entry)
	now := time.Now()
	k.cache.All()(func(key string, entry Entry) bool {
		if entry.ExpiresAt.IsZero() || now.Before(entry.ExpiresAt) {
			entries[key] = entry
		}
		return true
	})

	if err := gob.NewEncoder(file).Encode(entries); err != nil {
		return fmt.Errorf("encoding store snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing store snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing store snapshot: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("replacing store snapshot: %w", err)
	}
	k.logger.Debug("store snapshot saved", "entries", len(entries), "path", path)
	return nil
}

func (k *KV) startPeriodicSave(ctx context.Context) {
	saveCtx, cancel := context.WithCancel(ctx)
	k.saveCancel = cancel

	k.saveWg.Add(1)
	go func() {
		defer k.saveWg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-saveCtx.Done():
				return
			case <-ticker.C:
				if err := k.saveToDisk(); err != nil {
					k.logger.Error("periodic store save failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the periodic save and flushes a final snapshot.
func (k *KV) Close() error {
	if k.saveCancel != nil {
		k.saveCancel()
	}
	k.saveWg.Wait()
	if k.dir == "" {
		return nil
	}
	if err := k.saveToDisk(); err != nil {
		k.logger.Error("final store save failed", "error", err)
		return err
	}
	k.logger.Info("store closed")
	return nil
}
