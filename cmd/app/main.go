package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/burenotti/healthlog/internal/adapter/api"
	"github.com/burenotti/healthlog/internal/adapter/broker"
	"github.com/burenotti/healthlog/internal/adapter/search/weightsearch"
	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/burenotti/healthlog/internal/adapter/storage/migrations"
	"github.com/burenotti/healthlog/internal/app/authapp"
	"github.com/burenotti/healthlog/internal/app/messagebus"
	"github.com/burenotti/healthlog/internal/app/unitofwork"
	weightservice "github.com/burenotti/healthlog/internal/app/weight"
	"github.com/burenotti/healthlog/internal/config"
	"github.com/burenotti/healthlog/internal/domain"
	"github.com/burenotti/healthlog/internal/domain/auth"
	"github.com/joho/godotenv"
	"github.com/leporo/sqlf"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "path to config file")
	flag.Parse()

	// A missing .env is fine; real deployments pass the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad(configPath)
	logger := initLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlf.SetDialect(sqlf.PostgreSQL)

	db, err := storage.Open(ctx, cfg.DB.DSN, storage.PoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		panic("failed to connect database: " + err.Error())
	}
	defer db.Close()

	if cfg.DB.MigrateOnStart {
		if err := migrations.Up(ctx, db, logger); err != nil {
			panic("failed to migrate database: " + err.Error())
		}
	}

	mongoClient, index := initSearchIndex(ctx, cfg)
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(disconnectCtx)
	}()

	bus := messagebus.New(logger)
	defer bus.Close()
	bus.Register(auth.EventCreated, func(event domain.Event) error {
		logger.Info("processed user created event")
		return nil
	})
	if publisher := initPublisher(cfg, logger); publisher != nil {
		bus.Register(messagebus.AnyEvent, publisher.Handle)
		bus.OnClose(publisher.Close)
	}

	authorizer := &authapp.Authorizer{
		Cost:             bcrypt.DefaultCost,
		Secret:           cfg.JWT.Secret,
		AccessTokenTTL:   cfg.JWT.AccessTokenTTL,
		AuthorizationTTL: cfg.JWT.RefreshTokenTTL,
	}
	authService := authapp.NewService(authorizer, logger)
	weightService := weightservice.New(logger, index)

	if cfg.Admin.Login != "" {
		uow := unitofwork.New(db, authapp.NewAtomicContext, bus, logger)
		if err := authService.EnsureAdmin(ctx, uow, cfg.Admin.Login, cfg.Admin.Password); err != nil {
			panic("failed to create admin account: " + err.Error())
		}
	}

	rdb := initRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	server := api.NewServer(
		api.Addr(cfg.Server.Host, cfg.Server.Port),
		api.Logger(logger),
		api.AppName(cfg.App.Name),
		api.AuthService(authService),
		api.WeightService(weightService),
		api.DBContext(db),
		api.MessageBus(bus),
		api.RateLimit(rdb, cfg.RateLimit),
	)

	errCh := make(chan error)

	go func() {
		defer close(errCh)
		errCh <- server.Start()
	}()

	logger.Info("server started", "host", cfg.Server.Host, "port", cfg.Server.Port)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server was not shutdown gracefully", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server closed with unexpected error", "error", err)
			}
		}
	}
	logger.Info("server shutdown")
}

func initSearchIndex(ctx context.Context, cfg *config.Config) (*mongo.Client, *weightsearch.MongoIndex) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(cfg.Mongo.URI).
		SetTimeout(cfg.Mongo.Timeout))
	if err != nil {
		panic("failed to connect mongo: " + err.Error())
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		panic("failed to ping mongo: " + err.Error())
	}

	index := weightsearch.NewMongoIndex(client.Database(cfg.Mongo.Database), cfg.Mongo.Collection)
	if err := index.EnsureIndexes(connectCtx); err != nil {
		panic("failed to create search indexes: " + err.Error())
	}
	return client, index
}

// initPublisher returns nil when no broker is configured.
func initPublisher(cfg *config.Config, logger *slog.Logger) *broker.Publisher {
	if cfg.AMQP.URL == "" {
		return nil
	}
	publisher, err := broker.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	if err != nil {
		logger.Warn("event broker unavailable, events stay in process", "error", err)
		return nil
	}
	return publisher
}

// initRedis returns nil, disabling rate limiting, when redis is not configured or unreachable.
func initRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, rate limiting disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

func initLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler
	switch cfg.App.Env {
	case config.Development:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: true,
			Level:     slog.LevelDebug,
		})
	case config.Production:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelInfo,
		})
	default:
		panic("invalid env")
	}

	return slog.New(handler)
}
