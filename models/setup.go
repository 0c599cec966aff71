package models

import (
	"log/slog"
	"os"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	_ "gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Database struct {
	GormDB *gorm.DB
}

var DEFAULT_COMPANY_NAME = "kontor"

// var DB *gorm.DB
var DB *Database

func ConnectDatabase() {
	gormLogger := slogGorm.New(
		slogGorm.WithHandler(slog.Default().Handler()),
		slogGorm.SetLogLevel(slogGorm.DefaultLogType, slog.LevelDebug),
		slogGorm.WithContextValue("gorm", "true"),
	)

	var database *gorm.DB
	var err error
	if sqlitePath := os.Getenv("KONTOR_SQLITE_PATH"); sqlitePath != "" {
		database, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{
			Logger: gormLogger,
		})
	} else {
		database, err = gorm.Open(postgres.Open(os.Getenv("DATABASE_URL")), &gorm.Config{
			Logger: gormLogger,
		})
	}

	if err != nil {
		panic("Failed to connect to database!")
	}

	DB = &Database{GormDB: database}

	// data and fixtures added
	companyNumberOne, err := DB.GetCompany(DEFAULT_COMPANY_NAME)
	if companyNumberOne == nil {
		slog.Info("no default company found, creating default company")
		DB.CreateCompany("kontor", "", DEFAULT_COMPANY_NAME)
	}
}
