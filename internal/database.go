package internal

import (
	"fmt"

	"SRL-GEN/internal/config"
	"SRL-GEN/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB(cfg *config.Config, log *zap.Logger) error {
	dsn := cfg.Database.DSN()

	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("Database connected and migrated", zap.String("database", cfg.Database.DBName))
	return nil
}

// Migrate creates or extends every table the engine owns. Existing rows are
// preserved.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Letter{},
		&models.LetterSequence{},
		&models.LetterVerification{},
		&models.GenerationLog{},
	)
}

func CloseDB() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}
