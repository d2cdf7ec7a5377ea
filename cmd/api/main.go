package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-otp-nosql/internal/application/otp"
	"github.com/go-otp-nosql/internal/config"
	"github.com/go-otp-nosql/internal/infrastructure/dynamo"
	"github.com/go-otp-nosql/internal/infrastructure/memory"
	redisinfra "github.com/go-otp-nosql/internal/infrastructure/redis"
	"github.com/go-otp-nosql/internal/infrastructure/sendgrid"
	"github.com/go-otp-nosql/internal/infrastructure/smtp"
	"github.com/go-otp-nosql/internal/infrastructure/sns"
	"github.com/go-otp-nosql/internal/pkg/clock"
	"github.com/go-otp-nosql/internal/pkg/otpcode"
	transporthttp "github.com/go-otp-nosql/internal/transport/http"
	"github.com/joho/godotenv"
)

// retention keeps spent codes around long enough for the hourly quota.
const retention = time.Hour

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration:\n%v", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := &transporthttp.Deps{
		Generator: otpcode.New(),
		Clock:     clock.New(),
	}

	switch cfg.StoreDriver {
	case config.StoreDynamo:
		dynamoClient, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			log.Fatalf("dynamodb client: %v", err)
		}
		// Creates the tables if they don't exist.
		dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)
		if err := dynamo.CheckTables(ctx, dynamoClient, cfg.DynamoTables); err != nil {
			log.Fatalf("dynamodb tables not ready: %v", err)
		}
		deps.Store = dynamo.NewOTPRepo(dynamoClient, cfg.DynamoTables.OTPCodes, retention)
		deps.Flags = dynamo.NewAccountFlagRepo(dynamoClient, cfg.DynamoTables.AccountFlags)
	case config.StoreMemory:
		slog.Warn("using in-memory store; codes are lost on restart")
		store := memory.NewOTPStore(retention)
		go store.RunSweeper(ctx, time.Minute)
		deps.Store = store
		deps.Flags = memory.NewFlagStore()
	}

	switch cfg.MailProvider {
	case config.MailSendGrid:
		deps.Mailer = sendgrid.NewMailer(cfg)
	default:
		deps.Mailer = smtp.NewMailer(cfg)
	}

	// Redis issuance guard (optional).
	if cfg.RedisAddr != "" {
		rdb, err := redisinfra.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Warn("redis issuance guard not available", "err", err)
		} else {
			defer rdb.Close()
			deps.Guard = redisinfra.NewIssueGuard(rdb)
		}
	}

	// SNS verification events (optional).
	if cfg.SNSTopicARN != "" {
		pub, err := sns.NewPublisher(ctx, cfg)
		if err != nil {
			slog.Warn("sns publisher not available", "err", err)
		} else {
			deps.Events = pub
		}
	}

	if cfg.OTP.ExposeCode {
		slog.Warn("OTP_EXPOSE_CODE is enabled; codes are returned in send responses")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      transporthttp.NewRouter(ctx, cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting",
			"port", cfg.AppPort,
			"env", cfg.AppEnv,
			"store", cfg.StoreDriver,
			"mail", cfg.MailProvider,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	slog.Info("server stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	_ otp.Store     = (*dynamo.OTPRepo)(nil)
	_ otp.Store     = (*memory.OTPStore)(nil)
	_ otp.FlagStore = (*dynamo.AccountFlagRepo)(nil)
	_ otp.FlagStore = (*memory.FlagStore)(nil)
)
