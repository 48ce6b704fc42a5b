package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/wisnuc/appifi-sub000/pkg/media"
	mediabadger "github.com/wisnuc/appifi-sub000/pkg/media/badger"
)

// CreateMediaStore creates the media metadata store selected by cfg.Type.
func CreateMediaStore(ctx context.Context, cfg MediaStoreConfig) (media.Store, error) {
	switch cfg.Type {
	case "memory":
		return media.NewMemoryStore(), nil
	case "badger":
		return createBadgerMediaStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown media store type: %q", cfg.Type)
	}
}

// createBadgerMediaStore creates a BadgerDB-backed media store.
func createBadgerMediaStore(ctx context.Context, cfg MediaStoreConfig) (media.Store, error) {
	// Decode badger-specific configuration
	var badgerCfg mediabadger.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &badgerCfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(cfg.Badger); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	if err := validate.Struct(&badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", formatValidationError(err))
	}

	store, err := mediabadger.New(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger media store: %w", err)
	}
	return store, nil
}
