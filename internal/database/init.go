package database

import (
	"gorm.io/gorm"

	"github.com/customeros/draftsync/config"
	"github.com/customeros/draftsync/internal/logger"
)

func InitDraftsyncDatabase(dbConfig *config.DatabaseConfig, log logger.Logger) (*gorm.DB, error) {
	db, err := NewConnection(dbConfig)
	if err != nil {
		log.Errorf("Failed to connect to the database: %v", err)
		return nil, err
	}
	return db, nil
}
