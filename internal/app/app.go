// Package app wires configuration into collaborators and the engine.
package app

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"usrtaskmgt/internal/bpms"
	"usrtaskmgt/internal/config"
	"usrtaskmgt/internal/db"
	"usrtaskmgt/internal/dso"
	"usrtaskmgt/internal/engine"
	"usrtaskmgt/internal/formdata"
	"usrtaskmgt/internal/formvalidation"
	"usrtaskmgt/internal/remote"
)

// App is a fully wired service.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Engine engine.Engine
	Store  formdata.Store
}

// Build opens the form data store and assembles the engine.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tasks := bpms.Client{HTTP: remoteClient(cfg.BPMS), Logger: logger.Named("bpms")}
	eng := engine.Engine{
		Tasks:      tasks,
		History:    tasks,
		Signatures: dso.Client{HTTP: remoteClient(cfg.Signature)},
		Forms:      formvalidation.Client{HTTP: remoteClient(cfg.FormValidation)},
		Store:      store,
		Logger:     logger.Named("engine"),
	}
	logger.Info("app built",
		zap.String("storage", cfg.Storage.Type),
		zap.String("bpms", cfg.BPMS.URL),
		zap.String("signature", cfg.Signature.URL),
		zap.String("formValidation", cfg.FormValidation.URL),
	)
	return &App{Config: cfg, Logger: logger, Engine: eng, Store: store}, nil
}

// OpenStore opens the configured form data backend.
func OpenStore(ctx context.Context, cfg *config.Config) (formdata.Store, error) {
	switch cfg.Storage.Type {
	case config.StorageSQLite, "":
		return formdata.OpenSQLStore(ctx, db.Config{Workspace: cfg.Storage.SQLite.Workspace})
	case config.StorageBolt:
		return formdata.OpenBoltStore(cfg.Storage.Bolt.File)
	case config.StorageS3:
		s3 := cfg.Storage.S3
		return formdata.OpenS3Store(ctx, formdata.S3Config{
			Endpoint:  s3.Endpoint,
			Region:    s3.Region,
			Bucket:    s3.Bucket,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
		})
	case config.StorageMemory:
		return formdata.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

func remoteClient(svc config.Service) *remote.Client {
	return remote.NewWithTimeout(svc.URL, svc.Token, svc.Timeout)
}

// Close releases the store and flushes the logger.
func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = multierr.Append(err, a.Store.Close())
	}
	// Sync errors on terminal outputs are ignored.
	_ = a.Logger.Sync()
	return err
}
