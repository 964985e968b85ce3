package db

import (
	"log"

	"wallet-backend/internal/config"
	"wallet-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB connects to postgres and migrates the schema
func InitDB() {
	var err error

	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("Database DSN is required")
	}

	DB, err = gorm.Open(postgres.Open(config.AppConfig.Database.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	log.Println("✅ Database connected successfully")
	log.Println("🚀 Starting database schema migration with GORM AutoMigrate...")

	if err := DB.AutoMigrate(
		&models.User{},
		&models.PaymentIntent{},
		&models.SplitTemplate{},
		&models.SplitRecipient{},
		&models.SplitExecution{},
		&models.SplitExecutionResult{},
		&models.LedgerEntry{},
	); err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	log.Println("✅ Database schema migrated successfully")
}
