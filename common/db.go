package common

import (
	"os"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ConnectDb opens the sqlite database named by the sqlite_db env var.
// TranslateError is required so uniqueness violations surface as
// gorm.ErrDuplicatedKey, which the recipe upsert engine relies on.
func ConnectDb(logger *zap.Logger) *gorm.DB {
	dbFile := os.Getenv("sqlite_db")
	if dbFile == "" {
		logger.Error("sqlite_db not set")
		return nil
	}

	db, err := gorm.Open(sqlite.Open(dbFile), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		logger.Error("error opening sqlite db", zap.String("file", dbFile), zap.Error(err))
		return nil
	}
	logger.Info("opened sqlite db", zap.String("file", dbFile))
	return db
}
