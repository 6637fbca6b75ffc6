// Package badgerstore provides a core.ResourceHandler backed by an embedded
// BadgerDB key/value store.
//
// Resource contents are stored under the key "resource/<id>". Resolution is
// a naming step only; Load reports ResourceNotFound for ids that were never
// saved.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/xweb/core"
)

const keyPrefix = "resource/"

// Config holds configuration for the Badger backend.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory. Useful for tests.
	InMemory bool

	// SyncWrites flushes every write to disk before returning.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. When nil Badger
	// logging is disabled.
	Logger *slog.Logger
}

// Handler stores resource contents in BadgerDB.
type Handler struct {
	db *badger.DB
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Handler, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger directory is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Handler{db: db}, nil
}

// New wraps an already opened database. The caller keeps ownership of db.
func New(db *badger.DB) *Handler { return &Handler{db: db} }

// Close closes the underlying database.
func (h *Handler) Close() error { return h.db.Close() }

// Resolve maps resourceID to its badger key.
func (h *Handler) Resolve(resourceID string) (core.ResourceLocation, error) {
	if resourceID == "" || strings.ContainsRune(resourceID, 0) {
		return core.ResourceLocation{}, core.NewError(core.KindResourceNotFound, "invalid resource id %q", resourceID)
	}
	key := keyPrefix + resourceID
	return core.ResourceLocation{
		ResourceID: resourceID,
		URI:        "badger:///" + resourceID,
		Key:        key,
	}, nil
}

// Load returns the stored content of loc.
func (h *Handler) Load(ctx context.Context, loc core.ResourceLocation) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.WrapError(core.KindCancelled, "load cancelled", err)
	}

	var data []byte
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(loc.Key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, core.NewError(core.KindResourceNotFound, "resource %s does not exist", loc.ResourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load resource %s: %w", loc.ResourceID, err)
	}
	return data, nil
}

// Save stores data under loc.
func (h *Handler) Save(ctx context.Context, loc core.ResourceLocation, data []byte) error {
	if err := ctx.Err(); err != nil {
		return core.WrapError(core.KindCancelled, "save cancelled", err)
	}
	err := h.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(loc.Key), data)
	})
	if err != nil {
		return fmt.Errorf("save resource %s: %w", loc.ResourceID, err)
	}
	return nil
}

// IDs returns the ids of every stored resource in key order.
func (h *Handler) IDs() ([]string, error) {
	var ids []string
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return ids, nil
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
