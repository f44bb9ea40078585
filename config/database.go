package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"vodcms-collect-api/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB() {
	var err error

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		os.Getenv("DB_USERNAME"),
		os.Getenv("DB_PASSWORD"),
		GetEnv("DB_HOST", "127.0.0.1"),
		GetEnv("DB_PORT", "3306"),
		os.Getenv("DB_DATABASE"),
	)

	environment := strings.ToLower(os.Getenv("ENVIRONMENT"))
	debugSQL := strings.ToLower(os.Getenv("DEBUG_SQL"))

	// The scheduler ticks every few seconds, so production keeps SQL logging at Warn
	// unless DEBUG_SQL=true.
	logLevel := logger.Info
	if environment == "production" && debugSQL != "true" {
		logLevel = logger.Warn
	}

	config := &gorm.Config{
		Logger: logger.New(
			log.New(LogWriter, "\r\n", log.LstdFlags),
			logger.Config{LogLevel: logLevel, IgnoreRecordNotFoundError: true},
		),
	}

	DB, err = gorm.Open(mysql.Open(dsn), config)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	sqlDB, err := DB.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(GetEnvAsInt("DB_MAX_OPEN_CONNS", 20))
		sqlDB.SetMaxIdleConns(GetEnvAsInt("DB_MAX_IDLE_CONNS", 5))
	}

	log.Println("Database connected successfully")

	if GetEnvAsBool("DB_AUTO_MIGRATE", false) {
		if err := AutoMigrate(DB); err != nil {
			log.Fatal("Failed to migrate collect tables:", err)
		}
	}
}

// AutoMigrate creates or updates the tables used by the collection engine.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.CollectModels()...); err != nil {
		return err
	}
	log.Println("Collect tables migrated")
	return nil
}
