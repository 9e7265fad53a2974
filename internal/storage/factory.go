package storage

import (
	"fmt"

	"lead-enricher/internal/common/errors"
)

// FactoryConfig carries the settings the factory needs to pick and build
// a storage adapter. It mirrors the database section of config.Config
// without importing it, so adapters stay decoupled from app config.
type FactoryConfig struct {
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
}

// adapter constructors are injected by the subpackages through Register,
// keeping this package free of driver imports.
var builders = map[string]func(FactoryConfig) (Storage, error){}

// Register installs a named adapter builder. Called from adapter package
// init or from app wiring.
func Register(name string, builder func(FactoryConfig) (Storage, error)) {
	builders[name] = builder
}

// New creates a storage adapter based on the configured database type.
func New(cfg FactoryConfig) (Storage, error) {
	name := cfg.DatabaseType
	if name == "postgresql" {
		name = "postgres"
	}

	builder, ok := builders[name]
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}

	return builder(cfg)
}
