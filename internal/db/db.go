package db

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/prodflow/backend/internal/logging"
	"github.com/example/prodflow/backend/internal/models"
)

// New creates a new GORM database connection using the provided DSN.
func New(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := Open(postgres.Open(dsn), log)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	log.Info("connected to database")
	return db, nil
}

// gormWriter routes gorm's log lines through zap.
type gormWriter struct {
	log *zap.SugaredLogger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warnf(format, args...)
}

// newGormLogger reports slow statements and failures. A missing record is an
// ordinary lookup result and is not logged.
func newGormLogger(log *zap.Logger) logger.Interface {
	return logger.New(gormWriter{log: logging.OrNop(log).Named("gorm").Sugar()}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Open configures gorm on top of any dialector. Timestamps are stored in UTC.
// log may be nil.
func Open(dialector gorm.Dialector, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(
		&models.User{},
		&models.Activity{},
		&models.ActivityProgress{},
		&models.ProgressEvent{},
		&models.Notification{},
		&models.ReprintRequest{},
	), "auto migrate")
}
