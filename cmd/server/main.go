package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yishak-cs/cartrecs/internal/aisuggest"
	"github.com/yishak-cs/cartrecs/internal/database"
	"github.com/yishak-cs/cartrecs/internal/database/sqlstore"
	"github.com/yishak-cs/cartrecs/internal/handlers"
	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/mining"
	"github.com/yishak-cs/cartrecs/internal/models"
	"github.com/yishak-cs/cartrecs/internal/personalize"
	"github.com/yishak-cs/cartrecs/internal/services"
	"github.com/yishak-cs/cartrecs/internal/session"
	"github.com/yishak-cs/cartrecs/internal/store"
	"github.com/yishak-cs/cartrecs/internal/supervisor"
	"github.com/yishak-cs/cartrecs/pkg/helper"
)

// ledgerBackend is everything the engine reads from and persists to.
type ledgerBackend interface {
	mining.Ledger
	mining.EdgeSink
	mining.EdgeLoader
	UserItemStats(ctx context.Context, userID string, limit int) ([]models.UserItemStat, error)
	ActiveMenu(ctx context.Context) ([]models.MenuItem, error)
	handlers.StatusReporter
	handlers.HealthChecker
}

// neo4jBackend joins the graph ledger and edge sink over one client.
type neo4jBackend struct {
	*database.Neo4jLedger
	*database.Neo4jEdgeSink
	*database.Neo4jClient
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	cfg, err := helper.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	if err := run(cfg, logg); err != nil {
		logg.Fatal("Server exited with error", "error", err)
	}
	logg.Info("Server exited properly")
}

func run(cfg *helper.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(cfg, logg)
	if err != nil {
		return err
	}
	defer closeBackend()

	// Rule graph
	recStore := store.New()
	var sinks []mining.EdgeSink
	if cfg.Mining.Persist {
		sinks = append(sinks, backend)
	}
	refresher := mining.NewRefresher(backend, recStore, cfg.Mining.Thresholds, logg, sinks...)
	if cfg.Mining.Persist {
		warmCtx, cancel := context.WithTimeout(ctx, cfg.Ledger.StartupTimeout)
		if err := refresher.Warm(warmCtx, backend); err != nil {
			logg.Warn("Failed to warm recommendation store, serving empty until first refresh", "error", err)
		}
		cancel()
	}

	// Online path
	scorer := personalize.NewScorer(backend, recStore, cfg.Personalize, logg)

	var provider aisuggest.Provider
	if cfg.AI.Enabled {
		provider = aisuggest.NewOpenAIProvider(cfg.AI.OpenAI, &http.Client{Timeout: cfg.AI.Timeout}, logg)
	}
	suggester := aisuggest.New(provider, backend, recStore, backend, cfg.AI, logg)

	notices, err := openNoticeStore(cfg, logg)
	if err != nil {
		return err
	}
	coordinator := session.NewCoordinator(notices, cfg.Session.IdleTTL, logg)

	recommendationService := services.NewRecommendationService(suggester, recStore, scorer, coordinator, cfg.Suggest, logg)
	apiHandler := handlers.NewAPIHandler(recommendationService, refresher, recStore, backend, backend, logg)

	// Setup Gin router
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logg), cors.New(corsConfig(cfg.Server.CORSOrigins)))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	apiHandler.SetupRoutes(router)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sup := supervisor.New("cartrecs", cfg.Server.ShutdownTimeout, logg)
	sup.Add(supervisor.NewHTTPService(srv, cfg.Server.ShutdownTimeout, logg))
	sup.Add(mining.NewScheduler(refresher, cfg.Mining.RefreshInterval, cfg.Mining.RefreshOnStart, logg))
	sup.Add(coordinator)

	logg.Info("Starting services",
		"port", cfg.Server.Port,
		"ledger", cfg.Ledger.Backend,
		"ai_enabled", cfg.AI.Enabled,
		"session_store", cfg.Session.Store)

	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	return nil
}

func openBackend(cfg *helper.Config, logg *logger.Logger) (ledgerBackend, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Ledger.StartupTimeout)
	defer cancel()

	switch cfg.Ledger.Backend {
	case "sql":
		st, err := sqlstore.Open(cfg.SQL, logg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open SQL ledger: %w", err)
		}
		if cfg.Ledger.EnsureSchema {
			if err := st.AutoMigrate(); err != nil {
				return nil, nil, fmt.Errorf("failed to migrate SQL ledger: %w", err)
			}
		}
		return st, func() {
			if err := st.Close(); err != nil {
				logg.Warn("Error closing SQL connection", "error", err)
			}
		}, nil

	default:
		client, err := database.NewNeo4jClient(cfg.Neo4j, logg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
		}
		if cfg.Ledger.EnsureSchema {
			if err := client.EnsureSchema(ctx); err != nil {
				return nil, nil, fmt.Errorf("failed to bootstrap Neo4j schema: %w", err)
			}
		}
		backend := &neo4jBackend{
			Neo4jLedger:   database.NewNeo4jLedger(client),
			Neo4jEdgeSink: database.NewNeo4jEdgeSink(client),
			Neo4jClient:   client,
		}
		return backend, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(ctx); err != nil {
				logg.Warn("Error closing Neo4j connection", "error", err)
			}
		}, nil
	}
}

func openNoticeStore(cfg *helper.Config, logg *logger.Logger) (session.NoticeStore, error) {
	if cfg.Session.Store != "redis" {
		return session.NewMemoryNoticeStore(cfg.Session.IdleTTL), nil
	}
	rdb, err := session.NewRedisClient(cfg.Session.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return session.NewRedisNoticeStore(rdb, cfg.Session.Redis, logg), nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", handlers.SessionHeader},
		ExposeHeaders: []string{handlers.SessionHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}
