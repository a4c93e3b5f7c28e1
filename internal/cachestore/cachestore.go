// Package cachestore implements the content-addressed disk cache every
// remote call passes through before reaching internal/ratelimit and
// internal/bridge (spec.md §4.4). It is a direct generalization of the
// original pipeline's SmartCache (sha256 key, gzip-style compression,
// age-based invalidation, hit/miss/write counters, selective clearing),
// rebuilt on Go idioms: atomic temp-file-then-rename writes (the same
// shape as the DAG executor's checkpoint store), zstd instead of gzip,
// and a singleflight layer so concurrent describers/enrichers requesting
// the same key issue exactly one underlying call.
package cachestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

// SchemaVersion gates on-disk entries written by a previous, incompatible
// build of the pipeline. Bump this when the cached payload shape changes.
const SchemaVersion = 1

// compressionFloor is the payload size at or above which entries are zstd
// compressed. Small entries aren't worth the framing overhead.
const compressionFloor = 4096

// Stats are monotonic counters describing cache activity.
type Stats struct {
	Hits            int64
	Misses          int64
	Writes          int64
	CompressedWrites int64
	Errors          int64
	BytesWritten    int64
	BytesSaved      int64
}

// Config configures a Store.
type Config struct {
	Dir      string
	MaxAge   time.Duration // default 24h
	Compress bool          // default true
}

func (c *Config) applyDefaults() {
	if c.MaxAge == 0 {
		c.MaxAge = 24 * time.Hour
	}
}

// Store is the disk-backed, content-addressed cache. Safe for concurrent
// use; Load dedups concurrent identical fetches via singleflight (Get
// does not).
type Store struct {
	cfg     Config
	logger  *ingestlog.Logger
	group   singleflight.Group
	stats   Stats
	metrics *telemetry.Metrics
}

// New builds a Store rooted at cfg.Dir, creating it if necessary.
func New(cfg Config, logger *ingestlog.Logger) (*Store, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{cfg: cfg, logger: logger.With("component", "cachestore")}, nil
}

// SetMetrics attaches OTel-backed counters. Optional; nil skips recording.
func (s *Store) SetMetrics(m *telemetry.Metrics) {
	s.metrics = m
}

// Key builds the cache key for (objectName, dataType, params). params is
// sorted for deterministic hashing, mirroring the original SmartCache's
// sorted-kwargs key derivation.
func Key(objectName, dataType string, params map[string]string) string {
	data := objectName + "_" + dataType
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			data += fmt.Sprintf("_%s_%s", k, params[k])
		}
	}
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Store) path(key string) string {
	return filepath.Join(s.cfg.Dir, key+".cache")
}

// Get returns the cached payload for key if present and within MaxAge.
// found is false on any miss, including a schema-version mismatch or a
// corrupt/expired file — callers should treat those identically to a
// cold cache.
func (s *Store) Get(key string) (payload []byte, found bool) {
	return s.get(key, true)
}

// GetAny returns key's cached payload regardless of MaxAge, or found=false
// if no entry exists at all (including a corrupt or schema-mismatched
// one). For reconstructing state already marked done elsewhere: freshness
// was enforced when the entry was written, so re-validating age on every
// resume would force a needless remote call for work that already
// completed.
func (s *Store) GetAny(key string) (payload []byte, found bool) {
	return s.get(key, false)
}

func (s *Store) get(key string, enforceAge bool) (payload []byte, found bool) {
	defer func() {
		if s.metrics == nil {
			return
		}
		if found {
			s.metrics.CacheHitsTotal.Add(context.Background(), 1)
		} else {
			s.metrics.CacheMissesTotal.Add(context.Background(), 1)
		}
	}()

	path := s.path(key)
	info, err := os.Stat(path)
	if err != nil {
		atomic.AddInt64(&s.stats.Misses, 1)
		return nil, false
	}
	if enforceAge && time.Since(info.ModTime()) > s.cfg.MaxAge {
		atomic.AddInt64(&s.stats.Misses, 1)
		return nil, false
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		atomic.AddInt64(&s.stats.Errors, 1)
		atomic.AddInt64(&s.stats.Misses, 1)
		return nil, false
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		atomic.AddInt64(&s.stats.Errors, 1)
		atomic.AddInt64(&s.stats.Misses, 1)
		return nil, false
	}
	if entry.SchemaVersion != SchemaVersion {
		atomic.AddInt64(&s.stats.Misses, 1)
		return nil, false
	}

	payload = entry.Payload
	if entry.Compressed {
		decoded, err := decompress(payload)
		if err != nil {
			atomic.AddInt64(&s.stats.Errors, 1)
			atomic.AddInt64(&s.stats.Misses, 1)
			return nil, false
		}
		payload = decoded
	}

	atomic.AddInt64(&s.stats.Hits, 1)
	s.logger.Debug("cache hit", "key", key)
	return payload, true
}

// Put writes payload under key, replacing any existing entry atomically
// (temp file + fsync + rename, matching the DAG checkpoint store).
// dataType is recorded on the entry so Clear can selectively target it;
// pass "" if the caller doesn't need selective clearing for this key.
func (s *Store) Put(key, dataType string, payload []byte) error {
	stored := payload
	compressed := false
	if s.cfg.Compress && len(payload) >= compressionFloor {
		c, err := compress(payload)
		if err == nil && len(c) < len(payload) {
			stored = c
			compressed = true
		}
	}

	entry := model.CacheEntry{
		Key:           key,
		DataType:      dataType,
		Payload:       stored,
		CreatedAt:     time.Now(),
		SchemaVersion: SchemaVersion,
		Compressed:    compressed,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		atomic.AddInt64(&s.stats.Errors, 1)
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.atomicWrite(s.path(key), data); err != nil {
		atomic.AddInt64(&s.stats.Errors, 1)
		return err
	}

	atomic.AddInt64(&s.stats.Writes, 1)
	atomic.AddInt64(&s.stats.BytesWritten, int64(len(data)))
	if compressed {
		atomic.AddInt64(&s.stats.CompressedWrites, 1)
		atomic.AddInt64(&s.stats.BytesSaved, int64(len(payload)-len(stored)))
	}
	if s.metrics != nil {
		s.metrics.CacheWritesTotal.Add(context.Background(), 1)
	}
	s.logger.Debug("cache write", "key", key, "bytes", len(data), "compressed", compressed)
	return nil
}

func (s *Store) atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	success = true
	return nil
}

// Load fetches key from cache, calling fetch on a miss and caching its
// result under dataType. Concurrent Load calls for the same key are
// coalesced via singleflight: only one fetch runs, and every caller
// receives its result.
func (s *Store) Load(ctx context.Context, key, dataType string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if payload, ok := s.Get(key); ok {
		return payload, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		if payload, ok := s.Get(key); ok {
			return payload, nil
		}
		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if putErr := s.Put(key, dataType, payload); putErr != nil {
			s.logger.Warn("cache put failed after fetch", "key", key, "error", putErr.Error())
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Stats returns a snapshot of cache counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:             atomic.LoadInt64(&s.stats.Hits),
		Misses:           atomic.LoadInt64(&s.stats.Misses),
		Writes:           atomic.LoadInt64(&s.stats.Writes),
		CompressedWrites: atomic.LoadInt64(&s.stats.CompressedWrites),
		Errors:           atomic.LoadInt64(&s.stats.Errors),
		BytesWritten:     atomic.LoadInt64(&s.stats.BytesWritten),
		BytesSaved:       atomic.LoadInt64(&s.stats.BytesSaved),
	}
}

// Clear deletes cache entries matching dataType (empty matches all) that
// are older than olderThan (zero matches all ages), mirroring the
// original SmartCache's selective clear_cache.
func (s *Store) Clear(dataType string, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	cleared := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".cache" {
			continue
		}
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := filepath.Join(s.cfg.Dir, e.Name())
			info, err := os.Stat(path)
			if err != nil {
				return
			}
			if olderThan > 0 && time.Since(info.ModTime()) < olderThan {
				return
			}
			if dataType != "" && !matchesDataType(path, dataType) {
				return
			}
			if err := os.Remove(path); err == nil {
				mu.Lock()
				cleared++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.logger.Info("cache cleared", "count", cleared, "data_type", dataType)
	return cleared, nil
}

func matchesDataType(path, dataType string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var entry model.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false
	}
	return entry.DataType == dataType
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.DecodeAll(nil, nil)
}
