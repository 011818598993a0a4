package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/customeros/draftsync/api"
	"github.com/customeros/draftsync/api/rest/handlers/drafts"
	"github.com/customeros/draftsync/config"
	"github.com/customeros/draftsync/interfaces"
	"github.com/customeros/draftsync/internal/cron"
	"github.com/customeros/draftsync/internal/database"
	"github.com/customeros/draftsync/internal/listeners"
	"github.com/customeros/draftsync/internal/logger"
	"github.com/customeros/draftsync/internal/outbox"
	"github.com/customeros/draftsync/internal/repository"
	"github.com/customeros/draftsync/internal/tracing"
	"github.com/customeros/draftsync/services"
	"github.com/customeros/draftsync/services/crypto"
	"github.com/customeros/draftsync/services/events"
	"github.com/customeros/draftsync/services/mailapi"
	"github.com/customeros/draftsync/services/storage"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	events       *events.EventsService
	queue        interfaces.JobQueue
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config) (*Server, error) {
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	repos, err := initRepositories(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.NewAttachmentStorage(cfg.R2StorageConfig)
	if err != nil {
		return nil, errors.Wrap(err, "attachment storage")
	}

	queue, err := outbox.BuildJobQueueFromDSN(cfg.OutboxConfig.QueueDSN)
	if err != nil {
		return nil, errors.Wrap(err, "outbox queue")
	}

	mailAPI, err := mailapi.NewClient(cfg.MailAPIConfig, appLogger)
	if err != nil {
		_ = queue.Close()
		return nil, err
	}

	encryptor, err := crypto.NewEncryptor(cfg.CryptoConfig.EncryptionSecret)
	if err != nil {
		_ = queue.Close()
		return nil, err
	}

	var eventsService *events.EventsService
	var notifier interfaces.SyncStateNotifier
	if cfg.AppConfig.RabbitMQURL != "" {
		eventsService, err = events.NewEventsService(cfg.AppConfig.RabbitMQURL, appLogger, nil, nil)
		if err != nil {
			_ = queue.Close()
			return nil, errors.Wrap(err, "events service")
		}
		notifier = eventsService.Publisher
	} else {
		appLogger.Warn("RABBITMQ_URL not set, sync state notifications and commands are disabled")
	}

	svcs := services.InitServices(services.Dependencies{
		Repositories: repos,
		Blobs:        blobs,
		Queue:        queue,
		MailAPI:      mailAPI,
		Encryptor:    encryptor,
		Notifier:     notifier,
		Outbox:       *cfg.OutboxConfig,
	}, appLogger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		events:       eventsService,
		queue:        queue,
		cronManager:  cron.NewCronManager(cfg.CronConfig, appLogger, kubernetesClient(appLogger), svcs.Orchestrator),
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

func initRepositories(cfg *config.Config, log logger.Logger) (*repository.Repositories, error) {
	if cfg.AppConfig.DraftStore == "memory" {
		log.Warn("using in-memory draft store, drafts will not survive a restart")
		return repository.InitInMemoryRepositories(), nil
	}
	db, err := database.InitDraftsyncDatabase(cfg.DatabaseConfig, log)
	if err != nil {
		return nil, err
	}
	return repository.InitRepositories(db), nil
}

// kubernetesClient returns nil outside a cluster, which puts cron in local mode.
func kubernetesClient(log logger.Logger) kubernetes.Interface {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Info("not running in kubernetes, cron leader election disabled")
		return nil
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Warn("failed to create kubernetes client", zap.Error(err))
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	if s.events != nil {
		s.log.Info("Registering command listeners...")
		if err := listeners.RegisterCommandListeners(s.events.Subscriber, s.log, s.services.DraftService); err != nil {
			return err
		}
	}

	report, err := s.services.Orchestrator.Recover(ctx)
	if err != nil {
		return errors.Wrap(err, "outbox recovery")
	}
	s.log.Info("outbox recovered",
		zap.Int("recoveredLeases", report.RecoveredLeases),
		zap.Int("enqueuedSyncs", report.EnqueuedSyncs))

	api.RegisterRoutes(s.router, s.services.DraftService, s.queue, api.RouteConfig{
		APIKey:  s.config.AppConfig.APIKey,
		Handler: drafts.Config{MaxAttachmentSize: s.config.AppConfig.MaxAttachmentSize},
	})

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)

		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		s.log.Errorf("Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	s.log.Info("Starting outbox workers...")
	s.services.Orchestrator.Start(ctx)

	if err := s.cronManager.Start(os.Getenv("POD_NAME"), os.Getenv("POD_NAMESPACE")); err != nil {
		s.log.Error("cron manager failed to start", zap.Error(err))
	}

	go s.wrapGoroutine("http_server", func() {
		s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP server error", zap.Error(err))
		}
	})
	s.log.Info("draftsync is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	s.log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		s.log.Info("HTTP server shut down")
	}

	s.cronManager.Stop()

	// Workers hand their leases back on stop, so nothing is lost if this times out.
	stopped := make(chan struct{})
	go s.wrapGoroutine("outbox_shutdown", func() {
		defer close(stopped)
		s.services.Orchestrator.Stop()
	})
	select {
	case <-stopped:
		s.log.Info("Outbox workers stopped")
	case <-shutdownCtx.Done():
		s.log.Warn("Outbox workers did not stop in time")
	}

	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.log.Error("events service close error", zap.Error(err))
		}
	}
	if err := s.queue.Close(); err != nil {
		s.log.Error("outbox queue close error", zap.Error(err))
	}
	if s.tracerCloser != nil {
		_ = s.tracerCloser.Close()
	}
	_ = s.log.Sync()

	return nil
}
