// Package badger implements media.Store on top of BadgerDB.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/wisnuc/appifi-sub000/pkg/media"
)

// Key Namespace
//
// Data Type     Prefix   Key Format     Value Type
// ===================================================
// Metadata      "m:"     m:<hash>       media.Metadata (JSON)
//
// Hashes are lowercase hex sha256 fold digests, so keys are fixed length and
// a prefix scan over "m:" visits every record.
const prefixMetadata = "m:"

func keyMetadata(hash string) []byte {
	return []byte(prefixMetadata + hash)
}

// Store implements media.Store using BadgerDB for persistence.
//
// Thread Safety:
// BadgerDB transactions are safe for concurrent use, so Store needs no lock
// of its own.
type Store struct {
	db *badger.DB
}

// Config contains configuration for creating a BadgerDB media store.
type Config struct {
	// Path is the directory where BadgerDB keeps its files.
	Path string `mapstructure:"path" validate:"required"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// InMemory keeps everything in memory; Path is ignored. Used by tests.
	InMemory bool `mapstructure:"-"`
}

// New opens (or creates) a BadgerDB media store.
//
// Parameters:
//   - ctx: Context for cancellation
//   - config: Database path and cache sizes
//
// Returns:
//   - *Store: A store ready for use
//   - error: Error if the database cannot be opened or ctx is cancelled
func New(ctx context.Context, config Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Records are small JSON documents read far more often than written
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.Path, err)
	}
	return &Store{db: db}, nil
}

// Get returns the metadata recorded for hash, or media.ErrNotFound.
func (s *Store) Get(ctx context.Context, hash string) (*media.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var md media.Metadata
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyMetadata(hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return media.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get metadata: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &md)
		})
	})
	if err != nil {
		return nil, err
	}
	return &md, nil
}

// Put records md under md.Hash.
func (s *Store) Put(ctx context.Context, md *media.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if md.Hash == "" {
		return errors.New("media metadata without hash")
	}

	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(keyMetadata(md.Hash), data); err != nil {
			return fmt.Errorf("failed to store metadata: %w", err)
		}
		return nil
	})
}

// Delete removes the record of hash, if any.
func (s *Store) Delete(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyMetadata(hash))
	})
}

// Count scans the metadata namespace. Only keys are read.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixMetadata)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Hashes lists every recorded hash. Only keys are read.
func (s *Store) Hashes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hashes []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixMetadata)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			hashes = append(hashes, string(key[len(prefixMetadata):]))
		}
		return nil
	})
	return hashes, err
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

var _ media.Store = (*Store)(nil)
