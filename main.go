package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/customeros/draftsync/config"
	"github.com/customeros/draftsync/internal/database"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/outbox"
	"github.com/customeros/draftsync/internal/repository"
	"github.com/customeros/draftsync/server"
)

func main() {
	app := &cli.App{
		Name:  "draftsync",
		Usage: "durable outbox for email drafts",
		Before: func(c *cli.Context) error {
			log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: migrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, cli.Exit("config initialization failed: "+err.Error(), 1)
	}
	if cfg == nil {
		return nil, cli.Exit("config is empty", 1)
	}
	return cfg, nil
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.AppConfig.DraftStore != "memory" {
		db, err := database.InitDraftsyncDatabase(cfg.DatabaseConfig, logger.NewNopAppLogger())
		if err != nil {
			return cli.Exit("database initialization failed: "+err.Error(), 1)
		}
		if err := repository.MigrateDraftsyncDB(cfg.DatabaseConfig, db); err != nil {
			return cli.Exit("database migration failed: "+err.Error(), 1)
		}
	}

	// Opening the queue creates its tables.
	queue, err := outbox.BuildJobQueueFromDSN(cfg.OutboxConfig.QueueDSN)
	if err != nil {
		return cli.Exit("outbox migration failed: "+err.Error(), 1)
	}
	_ = queue.Close()

	log.Println("Database migration completed successfully")
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Println("draftsync starting up...")

	srv, err := server.NewServer(cfg)
	if err != nil {
		return cli.Exit("server setup failed: "+err.Error(), 1)
	}
	if err := srv.Run(); err != nil {
		return cli.Exit("server startup failed: "+err.Error(), 1)
	}

	log.Println("Shutdown complete")
	return nil
}
