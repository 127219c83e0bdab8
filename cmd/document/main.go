package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/config"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/database"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document/handler"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document/repository"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document/service"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/events"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/identity"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/locks"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/presence"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/storage"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/logger"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/metrics"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

var startTime = time.Now()

func main() {
	// LOG_LEVEL is read again from config; this makes config loading itself visible
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	logger.Infof("config loaded: keycloak=%v mongo=%v redis=%v minio=%v locks=%s",
		cfg.Keycloak.Issuer() != "", cfg.MongoDB.URI != "", cfg.Redis.Addr() != "", cfg.MinIO.Endpoint != "", cfg.Collab.LockBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Server.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	var rdb *redis.Client
	if addr := cfg.Redis.Addr(); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			// the lock backend and rate limiter were explicitly asked for redis
			if cfg.Collab.LockBackend == "redis" || cfg.RateLimit.UseRedis {
				return fmt.Errorf("redis %s: %w", addr, err)
			}
			logger.Warnf("redis %s unreachable, continuing without it: %v", addr, err)
		} else {
			logger.Infof("connected to redis at %s", addr)
			rdb = client
		}
	}

	repo, mongoClient, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if mongoClient != nil {
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Disconnect(dctx)
		}()
	}

	var lm locks.Manager
	switch cfg.Collab.LockBackend {
	case "redis":
		lm = locks.NewRedisManager(rdb, cfg.Collab.EventPrefix+":", cfg.Collab.LockTimeout)
	default:
		lm = locks.NewMemoryManager(cfg.Collab.LockTimeout, nil)
	}

	broker := events.NewBroker(0)
	notifiers := events.Fanout{broker}
	if rdb != nil {
		notifiers = append(notifiers, events.NewRedisPublisher(rdb, cfg.Collab.EventPrefix))
	}

	opts := []service.Option{service.WithConflictWindow(cfg.Collab.ConflictWindow)}
	var snapshots handler.SnapshotLinker
	if cfg.MinIO.Endpoint != "" {
		st, err := storage.NewMinIOStorage(ctx, cfg.MinIO)
		if err != nil {
			logger.Warnf("snapshot archive disabled: %v", err)
		} else {
			opts = append(opts, service.WithArchiver(st))
			snapshots = st
		}
	}

	svc := service.New(repo, lm, presence.NewRegistry(), notifiers, opts...)

	verifier := buildVerifier(ctx, cfg)
	var revocations *identity.Revocations
	var revocationCheck middleware.RevocationChecker
	if rdb != nil {
		revocations = identity.NewRevocations(rdb)
		revocationCheck = revocations
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), cors())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{"store": svc.Ping(c.Request.Context()) == nil, "auth": verifier != nil}
		if rdb != nil {
			deps["redis"] = rdb.Ping(c.Request.Context()).Err() == nil
		}
		status, code := "ready", http.StatusOK
		for _, ok := range deps {
			if !ok {
				status, code = "not_ready", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(startTime).String()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handler.RegisterSwagger(r)

	var hmacTokens *identity.HMACTokens
	if cfg.JWT.Secret != "" {
		hmacTokens, _ = identity.NewHMACTokens(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	}
	auth := identity.NewHandler(hmacTokens, revocations, cfg.Server.Environment == "development")

	public := r.Group("/api")
	auth.Register(public)

	if verifier == nil {
		logger.Warnf("no token verifier configured; /api/documents is disabled")
	} else {
		api := r.Group("/api", middleware.AuthMiddleware(verifier, revocationCheck))
		if cfg.RateLimit.Enabled {
			if cfg.RateLimit.UseRedis {
				api.Use(middleware.RedisRateLimitMiddleware(rdb, cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Window))
			} else {
				api.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
			}
		}
		auth.RegisterAuthenticated(api)
		handler.New(svc, broker, snapshots).Register(api)
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// event streams stay open, so no WriteTimeout
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("collaboration service listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// openRepository prefers MongoDB when MONGODB_URI is set and falls back to
// the in-memory store when it cannot be reached.
func openRepository(ctx context.Context, cfg *config.Config) (repository.Repository, *mongo.Client, error) {
	if cfg.MongoDB.URI != "" {
		client, err := database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5, time.Second)
		if err != nil {
			logger.Warnf("cannot connect to MongoDB (%v), using memory-backed repo", err)
		} else {
			repo, err := repository.NewMongoRepo(ctx, client.Database(cfg.MongoDB.Database))
			if err != nil {
				_ = client.Disconnect(ctx)
				return nil, nil, fmt.Errorf("mongo repository: %w", err)
			}
			logger.Infof("using MongoDB database %q", cfg.MongoDB.Database)
			return repo, client, nil
		}
	}
	repo, err := repository.NewMemoryRepo()
	if err != nil {
		return nil, nil, err
	}
	return repo, nil, nil
}

// buildVerifier chains every configured token verifier. The insecure verifier
// is only added under ALLOW_INSECURE_TOKEN=true for integration tests.
func buildVerifier(ctx context.Context, cfg *config.Config) middleware.Verifier {
	var chain identity.Chain
	if issuer := cfg.Keycloak.Issuer(); issuer != "" && cfg.Keycloak.ClientID != "" {
		ver, err := identity.NewOIDCVerifier(ctx, issuer, cfg.Keycloak.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			chain = append(chain, ver)
		}
	}
	if cfg.JWT.Secret != "" {
		if tokens, err := identity.NewHMACTokens(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL); err == nil {
			chain = append(chain, tokens)
		}
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")), "true") {
		logger.Warn("enabling insecure token verifier (integration mode)")
		chain = append(chain, identity.NewInsecureVerifier())
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// cors is a permissive policy for dev/test.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
