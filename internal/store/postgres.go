package store

import (
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jhyang-dev/reverie/backend/internal/config"
	chatmodel "github.com/jhyang-dev/reverie/backend/internal/model/chat"
	memorymodel "github.com/jhyang-dev/reverie/backend/internal/model/memory"
	"github.com/jhyang-dev/reverie/backend/internal/pkg/logger"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Open connects to Postgres, enables the pgvector extension and migrates the
// chat and memory tables.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable vector extension: %w", err)
	}

	if err := db.AutoMigrate(
		&chatmodel.Room{},
		&chatmodel.Message{},
		&memorymodel.Memory{},
	); err != nil {
		return nil, fmt.Errorf("auto migration failed: %w", err)
	}

	log.Info("postgres connected", "database", cfg.Name)
	return db, nil
}
