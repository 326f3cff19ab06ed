package landing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/common/config"
	"github.com/gstripling00/prompt-system/internal/common/logger"
)

// Provide builds the Store selected by cfg.Mode.
func Provide(ctx context.Context, cfg config.LandingConfig, log *logger.Logger) (Store, func() error, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Mode {
	case "", "local":
		store, err = NewLocalStore(cfg.LocalDir)
	case "gcs":
		store, err = NewGCSStore(ctx, cfg.Bucket, "")
	case "gcs_emulator":
		store, err = NewGCSStore(ctx, cfg.Bucket, cfg.EmulatorHost)
	default:
		return nil, nil, fmt.Errorf("unsupported landing mode: %s", cfg.Mode)
	}
	if err != nil {
		return nil, nil, err
	}
	log.Info("Landing store initialized",
		zap.String("mode", cfg.Mode),
		zap.String("bucket", cfg.Bucket),
		zap.String("local_dir", cfg.LocalDir),
		zap.String("prefix", cfg.Prefix))
	return store, store.Close, nil
}

// MatcherFromConfig returns the batch filter configured for the landing area.
func MatcherFromConfig(cfg config.LandingConfig) Matcher {
	return Matcher{Prefix: cfg.Prefix, Patterns: cfg.Patterns}
}
