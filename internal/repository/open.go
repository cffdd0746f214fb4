package repository

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"postboard/internal/config"
	"postboard/internal/middleware"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open builds the Store selected by cfg.StoreDriver.
func Open(cfg *config.Config, opts ...Option) (Store, error) {
	policy, err := ParseRecoveryPolicy(cfg.StoreRecovery)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithRecoveryPolicy(policy)}, opts...)

	switch cfg.StoreDriver {
	case "", "file":
		store, err := NewFileStore(cfg.StorePath, opts...)
		if err != nil {
			return nil, err
		}
		middleware.Logger.Info("Record store opened",
			slog.String("driver", "file"),
			slog.String("path", cfg.StorePath),
		)
		return store, nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, unavailable("create sqlite dir", err)
		}
		return openGorm(cfg, sqlite.Open(cfg.SQLitePath), opts)
	case "postgres":
		return openGorm(cfg, postgres.Open(postgresDSN(cfg)), opts)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func postgresDSN(cfg *config.Config) string {
	sslMode := cfg.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		sslMode,
	)
}

func openGorm(cfg *config.Config, dialector gorm.Dialector, opts []Option) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(middleware.Logger),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	store := NewGormStore(db, opts...)
	// Production postgres schemas are managed out of band.
	if !cfg.IsProduction() || store.backend == "sqlite" {
		if err := store.Migrate(); err != nil {
			_ = store.Close()
			return nil, err
		}
		middleware.Logger.Info("Database migration completed")
	}

	middleware.Logger.Info("Record store opened", slog.String("driver", store.backend))
	return store, nil
}
