// Package database opens the relational store and keeps its schema current.
package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reviews"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/tutor"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"

	slowQueryThreshold = 500 * time.Millisecond
)

// Models lists every persisted type, in migration order.
func Models() []any {
	return []any{
		&users.User{},
		&reputation.Badge{},
		&reputation.UserBadge{},
		&community.Community{},
		&community.CommunityMember{},
		&community.Channel{},
		&community.StudyGroup{},
		&community.StudyGroupMember{},
		&chat.Message{},
		&chat.MessageVote{},
		&chat.DMConversation{},
		&chat.DMMessage{},
		&notes.SharedNote{},
		&notes.NoteChange{},
		&reviews.Submission{},
		&reviews.Feedback{},
		&tutor.FlashcardCollection{},
		&tutor.FlashcardCard{},
		&tutor.Quiz{},
		&migrationRecord{},
	}
}

// Open connects to the configured database without touching the schema.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(logger),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Info("database opened", zap.String("driver", driver))
	return db, nil
}

// OpenAndMigrate opens the database and brings its schema and seed data up to date.
func OpenAndMigrate(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := Open(driver, dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates missing tables and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate schema: %w", err)
	}
	return applyMigrations(db, logger)
}

func newGormLogger(logger *zap.Logger) gormlogger.Interface {
	return gormlogger.New(
		zap.NewStdLog(logger.Named("gorm")),
		gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
}
