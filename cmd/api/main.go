package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/api"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/auth"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/config"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/events"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/service"
	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	publisher := events.Publisher(events.NopPublisher{})
	if cfg.RabbitMQURL != "" {
		rp, err := events.NewRabbitPublisher(cfg.RabbitMQURL, cfg.EventExchange)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		publisher = rp
		logger.Info("publishing transaction events", "exchange", cfg.EventExchange)
	}
	defer publisher.Close()

	var limiter auth.Limiter = auth.NopLimiter{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable, login throttling fails open", "error", err)
		}
		limiter = auth.NewRedisLimiter(client, "", cfg.LoginMaxAttempts, cfg.LoginWindow())
	}

	opts := service.Options{
		InterestRate:     cfg.Rate(),
		AccountNumberMin: cfg.AccountNumberMin,
		AccountNumberMax: cfg.AccountNumberMax,
		HistoryLimit:     cfg.HistoryLimit,
		BcryptCost:       cfg.BcryptCost,
		Publisher:        publisher,
		Logger:           logger,
	}
	ledger := service.NewLedger(st, opts)
	gate := service.NewAuthGate(st, opts)

	if err := gate.SeedStaff(ctx, []service.StaffSeed{
		{ID: cfg.AdminID, Password: cfg.AdminPassword, Role: domain.RoleAdmin},
		{ID: cfg.AgentID, Password: cfg.AgentPassword, Role: domain.RoleAgent},
	}); err != nil {
		logger.Error("failed to seed staff", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL())
	handler := api.NewHandler(ledger, gate, tokens, limiter, cfg.JWTTTL(), logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Env, "driver", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StorageDriver == config.DriverMemory {
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(ctx, cfg.DBSource)
}
