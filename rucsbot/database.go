package rucsbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteExecPragma = []string{
		"pragma busy_timeout = 5000;",
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUintID is an embeddable model providing a uint surrogate primary key.
type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// CreateDB initializes and returns a GORM database connection based on the
// specified database type, and performs auto-migration for the bot's models.
//
// For postgres, the pg_trgm extension and a trigram index on tag names are
// created so fuzzy lookups stay off sequential scans. SQLite has no trigram
// support; similarity ranking falls back to an in-process implementation
// (see tagSimilarity).
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	if gormLogger == nil {
		handler := tint.NewHandler(
			os.Stdout,
			&tint.Options{
				Level:     slog.LevelWarn,
				AddSource: true,
			},
		)
		gormLogger = newGORMLogger(handler, 500*time.Millisecond)
	}

	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	if databaseType == dbTypeSQLite {
		for _, pragma := range sqliteExecPragma {
			if execErr := db.Exec(pragma).Error; execErr != nil {
				return db, fmt.Errorf("error setting pragma %q: %w", pragma, execErr)
			}
		}
	}

	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&Tag{},
		&CommandLog{},
	)
	if err != nil {
		txn.Rollback()
		return db, err
	}

	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}

	if databaseType == dbTypePostgres {
		if trgErr := createTrigramIndex(ctx, db); trgErr != nil {
			return db, trgErr
		}
	}

	return db, nil
}

// createTrigramIndex enables pg_trgm and indexes tag names for
// similarity search.
func createTrigramIndex(ctx context.Context, db *gorm.DB) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS pg_trgm",
		"CREATE INDEX IF NOT EXISTS idx_tags_name_trgm ON tags USING gin (name gin_trgm_ops)",
	}
	for _, stmt := range statements {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("error executing %q: %w", stmt, err)
		}
	}
	return nil
}

// getDB opens a GORM connection for the given database type.
// TranslateError is enabled so unique-constraint violations surface as
// gorm.ErrDuplicatedKey on both backends.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(database), gormConfig)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(database), gormConfig)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// CommandLog is a DB model recording each command the bot receives,
// whether via slash command or message prefix.
type CommandLog struct {
	ModelUintID
	Method        string `json:"method" gorm:"type:string"` // "interaction" or "message"
	InteractionID string `json:"interaction_id" gorm:"type:string"`
	Command       string `json:"command" gorm:"not null"`
	UserID        string `json:"user_id" gorm:"not null"`
	Username      string `json:"username" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func (c CommandLog) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("method", c.Method),
		slog.String("command", c.Command),
		slog.String("user_id", c.UserID),
		slog.String("guild_id", c.GuildID),
		slog.String("channel_id", c.ChannelID),
	)
}
