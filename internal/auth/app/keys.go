package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
	"github.com/aussiebroadwan/stockroom/pkg/idx"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
)

const (
	keyModeEphemeral  = "ephemeral"
	keyModePersistent = "persistent"
)

// InitAuthKeys builds the KeyManager for the configured storage mode.
//
// Storage modes:
//   - "ephemeral": keys are generated on startup and kept in memory. Every
//     token issued before a restart stops verifying.
//   - "persistent": keys are sealed with the master key and stored in the
//     database. Tokens survive restarts and retired keys verify until their
//     grace period ends.
//
// The returned Sealer is nil in ephemeral mode.
func InitAuthKeys(ctx context.Context, cfg KeysConfig, db store.Store, logger *slog.Logger) (*jwtx.KeyManager, jwtx.Sealer, error) {
	opts := jwtx.KeyManagerOptions{
		Algorithm: cfg.Algorithm,
		Issuer:    cfg.Issuer,
		NumKeys:   cfg.NumKeys,
	}

	if cfg.StorageMode != keyModePersistent {
		logger.Info("initializing ephemeral key manager",
			"algorithm", cfg.Algorithm,
			"num_keys", cfg.NumKeys,
		)
		km, err := jwtx.NewEphemeralKeyManager(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
		}
		logger.Info("generated ephemeral signing keys",
			"algorithm", km.Algorithm(),
			"num_keys", km.NumSigners(),
			"issuer", cfg.Issuer,
		)
		logger.Warn("tokens issued before this start are no longer valid")
		return km, nil, nil
	}

	sealer, err := cryptox.LoadKeyCipher(cfg.MasterKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load master key: %w", err)
	}

	logger.Info("initializing persistent key manager",
		"algorithm", cfg.Algorithm,
		"num_keys", cfg.NumKeys,
		"grace_period", cfg.GracePeriod,
	)
	km, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: opts,
		Store:             store.NewKeyStoreAdapter(db),
		Sealer:            sealer,
		NewID:             func() string { return idx.NewAt(time.Now()).String() },
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize persistent key manager: %w", err)
	}

	logger.Info("persistent signing keys loaded",
		"algorithm", km.Algorithm(),
		"num_keys", km.NumSigners(),
		"issuer", cfg.Issuer,
	)
	return km, sealer, nil
}
