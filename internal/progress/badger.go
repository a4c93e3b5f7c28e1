// Badger-backed progress storage for large working sets, where the
// JSON-snapshot Store's whole-file rewrite on every flush becomes the
// bottleneck. Grounded on storage/badger/badger.go's Open/DefaultConfig
// shape: a slog-adapted logger, optional sync writes, and a single
// long-lived *badger.DB handle.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool // default false
}

func (c *BadgerConfig) applyDefaults() {
	if !c.InMemory && c.Path == "" {
		c.Path = "./progress.badger"
	}
}

// BadgerStore is a drop-in alternative to Store for working sets large
// enough that rewriting the whole JSON snapshot on every flush is
// costly; each record is an independent key, so a single Mark touches
// one key rather than the entire file.
type BadgerStore struct {
	db     *badger.DB
	logger *ingestlog.Logger

	consecutiveQuotaErrors int
}

// OpenBadger opens (creating if necessary) a BadgerStore at cfg.Path.
func OpenBadger(cfg BadgerConfig, logger *ingestlog.Logger) (*BadgerStore, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger progress store: %w", err)
	}

	return &BadgerStore{db: db, logger: logger.With("component", "progress.badger")}, nil
}

func badgerKey(phase model.Phase, ref model.ObjectRef) []byte {
	return []byte(string(phase) + "/" + string(ref))
}

// Mark writes one ProgressRecord as a single Badger transaction. See
// Store.Mark for why the quota check is a substring match.
func (b *BadgerStore) Mark(ref model.ObjectRef, phase model.Phase, state model.ProgressState, errMsg string) error {
	if state == model.StateError && strings.Contains(errMsg, "quota_error") {
		b.consecutiveQuotaErrors++
	} else if state == model.StateDone {
		b.consecutiveQuotaErrors = 0
	}

	rec := model.ProgressRecord{Ref: ref, Phase: phase, State: state, Error: errMsg}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(phase, ref), data)
	})
}

// AtQuotaWall mirrors Store.AtQuotaWall.
func (b *BadgerStore) AtQuotaWall() bool {
	return b.consecutiveQuotaErrors >= QuotaWallThreshold
}

// Get returns the current record for (ref, phase), if any.
func (b *BadgerStore) Get(ref model.ObjectRef, phase model.Phase) (model.ProgressRecord, bool) {
	var rec model.ProgressRecord
	found := false
	_ = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(phase, ref))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			if jsonErr := json.Unmarshal(val, &rec); jsonErr == nil {
				found = true
			}
			return nil
		})
	})
	return rec, found
}

// Pending scans universe and returns refs not in StateDone for phase.
func (b *BadgerStore) Pending(phase model.Phase, universe []model.ObjectRef) []model.ObjectRef {
	pending := make([]model.ObjectRef, 0, len(universe))
	for _, ref := range universe {
		rec, ok := b.Get(ref, phase)
		if !ok || rec.State != model.StateDone {
			pending = append(pending, ref)
		}
	}
	return pending
}

// Close closes the underlying Badger handle.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
