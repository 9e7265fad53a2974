package app

import (
	"fmt"

	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/storage"
	"lead-enricher/internal/storage/postgres"
	"lead-enricher/internal/storage/sqlite"
)

// registerAdapters installs the adapter builders into the storage
// factory. This is the only place the app links against the drivers.
func registerAdapters() {
	storage.Register("sqlite", func(cfg storage.FactoryConfig) (storage.Storage, error) {
		path := cfg.DatabasePath
		if path == "" {
			path = "./lead_enricher.db"
		}
		return sqlite.NewAdapter(path)
	})

	storage.Register("postgres", func(cfg storage.FactoryConfig) (storage.Storage, error) {
		return postgres.NewAdapter(&postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})
	})
}

func (app *App) initializeStorage() error {
	registerAdapters()

	switch app.Config.DatabaseType {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL",
			logging.Field{Key: "host", Value: app.Config.PostgresHost},
			logging.Field{Key: "port", Value: app.Config.PostgresPort},
			logging.Field{Key: "database", Value: app.Config.PostgresDB},
		)
	default:
		app.Logger.Info("Database: SQLite",
			logging.Field{Key: "path", Value: app.Config.DatabasePath})
	}

	store, err := storage.New(storage.FactoryConfig{
		DatabaseType:     app.Config.DatabaseType,
		DatabasePath:     app.Config.DatabasePath,
		PostgresHost:     app.Config.PostgresHost,
		PostgresPort:     app.Config.PostgresPort,
		PostgresDB:       app.Config.PostgresDB,
		PostgresUser:     app.Config.PostgresUser,
		PostgresPassword: app.Config.PostgresPassword,
		PostgresSSLMode:  app.Config.PostgresSSLMode,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.Storage = store
	return nil
}
