package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jobtrackr/apiserver/config"
	"github.com/jobtrackr/apiserver/internal/auth"
	"github.com/jobtrackr/apiserver/internal/db"
	"github.com/jobtrackr/apiserver/internal/handlers"
	"github.com/jobtrackr/apiserver/internal/mq"
	"github.com/jobtrackr/apiserver/internal/realtime"
	"github.com/jobtrackr/apiserver/internal/services"
	"github.com/jobtrackr/apiserver/internal/storage"
	"github.com/jobtrackr/apiserver/internal/store"
	"github.com/jobtrackr/apiserver/types"
	"github.com/sirupsen/logrus"
)

// Server wraps the HTTP server, router and realtime fabric.
type Server struct {
	httpServer   *http.Server
	router       *chi.Mux
	db           *sql.DB
	hub          *realtime.Hub
	bridge       *realtime.Bridge
	bridgeCancel context.CancelFunc
	log          *logrus.Logger
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}
	tokens, err := auth.NewTokenService(jwtSecret)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	jobRepo := store.NewJobRepository(dbConn)
	userService := services.NewUserService(userRepo)

	objectStorage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	jobService := services.NewJobService(jobRepo, objectStorage)

	hub := realtime.NewHub(log)
	wsHandler := realtime.NewHandler(hub, tokens, userService, log)

	notifier, bridge, bridgeCancel, err := newNotifier(ctx, cfg, hub, log)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	authMiddleware := handlers.RequireAuth(tokens, userService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, tokens)
	})
	router.Route("/jobs", func(r chi.Router) {
		r.Use(authMiddleware)
		handlers.JobRouter(r, jobService, notifier, log)
	})
	router.Route("/users", func(r chi.Router) {
		r.Use(authMiddleware, handlers.RequireRole(types.RoleAdmin))
		handlers.UserRouter(r, userService)
	})
	router.Get("/ws", wsHandler.HandleConnection)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer:   httpServer,
		router:       router,
		db:           dbConn,
		hub:          hub,
		bridge:       bridge,
		bridgeCancel: bridgeCancel,
		log:          log,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.bridgeCancel != nil {
		s.bridgeCancel()
	}
	if s.bridge != nil {
		_ = s.bridge.Close()
	}
	s.hub.Close()
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}

// newNotifier picks the event fan-out path. The default "local"
// notifier delivers straight into the in-process hub; the broker
// backends bridge events across instances.
func newNotifier(ctx context.Context, cfg config.Config, hub *realtime.Hub, log *logrus.Logger) (realtime.Notifier, *realtime.Bridge, context.CancelFunc, error) {
	switch cfg.Notifier.Backend {
	case "", "local":
		return hub, nil, nil, nil

	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("rabbitmq notifier: %w", err)
		}
		return startBridge(ctx, mq.New(client), cfg.Notifier.Channel, hub, log)

	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("pubsub notifier: %w", err)
		}
		return startBridge(ctx, mq.New(client), cfg.Notifier.Channel, hub, log)

	default:
		return nil, nil, nil, fmt.Errorf("unknown notifier backend %q", cfg.Notifier.Backend)
	}
}

func startBridge(ctx context.Context, queue *mq.MQ, channel string, hub *realtime.Hub, log *logrus.Logger) (realtime.Notifier, *realtime.Bridge, context.CancelFunc, error) {
	bridge := realtime.NewBridge(queue, hub, channel, log)
	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := bridge.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("notification bridge stopped")
		}
	}()
	return bridge, bridge, cancel, nil
}

// newObjectStorage picks the resume attachment backend, or none.
func newObjectStorage(ctx context.Context, cfg config.Config) (*storage.Storage, error) {
	switch cfg.Storage.Backend {
	case "", "none":
		return nil, nil

	case "minio":
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("minio storage: %w", err)
		}
		wrapped := storage.NewStorage(client)
		if err := wrapped.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio storage: %w", err)
		}
		return wrapped, nil

	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs storage: %w", err)
		}
		wrapped := storage.NewStorage(client)
		if err := wrapped.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("gcs storage: %w", err)
		}
		return wrapped, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
