package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/draftsync/config"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/models"
	"github.com/customeros/draftsync/internal/repository/inmemory"
)

type Repositories struct {
	DraftRepository           interfaces.DraftRepository
	DraftAttachmentRepository interfaces.DraftAttachmentRepository
	DraftSyncStateRepository  interfaces.DraftSyncStateRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DraftRepository:           NewDraftRepository(db),
		DraftAttachmentRepository: NewDraftAttachmentRepository(db),
		DraftSyncStateRepository:  NewDraftSyncStateRepository(db),
	}
}

// InitInMemoryRepositories backs all repositories with one shared in-process store.
func InitInMemoryRepositories() *Repositories {
	db := inmemory.NewDB()
	return &Repositories{
		DraftRepository:           inmemory.NewDraftRepository(db),
		DraftAttachmentRepository: inmemory.NewDraftAttachmentRepository(db),
		DraftSyncStateRepository:  inmemory.NewDraftSyncStateRepository(db),
	}
}

func MigrateDraftsyncDB(dbConfig *config.DatabaseConfig, draftsyncDB *gorm.DB) error {
	db, err := draftsyncDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = draftsyncDB.AutoMigrate(
		&models.Draft{},
		&models.DraftAttachment{},
		&models.DraftSyncState{},
	)

	db.SetMaxIdleConns(dbConfig.MaxIdleConn)
	db.SetMaxOpenConns(dbConfig.MaxConn)
	db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
