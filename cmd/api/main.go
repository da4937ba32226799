package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/kapixcr/BioNote/internal/config"
	"github.com/kapixcr/BioNote/internal/email"
	"github.com/kapixcr/BioNote/internal/handler/health"
	"github.com/kapixcr/BioNote/internal/repository"
	"github.com/kapixcr/BioNote/internal/repository/memory"
	"github.com/kapixcr/BioNote/internal/repository/postgres"
	"github.com/kapixcr/BioNote/internal/router"
	accountService "github.com/kapixcr/BioNote/internal/service/account"
	authService "github.com/kapixcr/BioNote/internal/service/auth"
	clinicService "github.com/kapixcr/BioNote/internal/service/clinic"
	"github.com/kapixcr/BioNote/internal/service/pairing"
	passwordService "github.com/kapixcr/BioNote/internal/service/password"
	testrecordService "github.com/kapixcr/BioNote/internal/service/testrecord"
	"github.com/kapixcr/BioNote/internal/storage"
	"github.com/kapixcr/BioNote/internal/throttle"
	"github.com/kapixcr/BioNote/internal/upload"
	"github.com/kapixcr/BioNote/pkg/auth"
	"github.com/kapixcr/BioNote/pkg/circuitbreaker"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
	"github.com/kapixcr/BioNote/pkg/security"
	"github.com/kapixcr/BioNote/pkg/validator"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	})
	log.Logger = appLog.Zerolog()
	if cfg.Log.JSON {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := validator.RegisterGin(validator.Options{
		Countries:    cfg.Clinics.Countries,
		PhonePattern: cfg.Clinics.PhonePattern,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to register validators")
	}

	ctx := context.Background()
	checks := map[string]health.Checker{}

	// Initialize store
	var store repository.Store
	switch cfg.Database.Driver {
	case "memory":
		appLog.Warn("using the in-memory store, data is lost on exit")
		store = memory.NewStore()
	default:
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				log.Fatal().Err(err).Msg("failed to migrate database")
			}
		}
		store = postgres.NewStore(db)
	}
	checks["database"] = store

	// Initialize throttle backend
	var limiter throttle.Limiter
	switch cfg.Throttle.Driver {
	case "redis":
		rl, err := throttle.NewRedis(cfg.Throttle.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rl.Close()
		checks["redis"] = rl
		limiter = rl
	default:
		limiter = throttle.NewMemory()
	}

	var mailer email.Service
	if cfg.Mail.Host != "" {
		mailer = email.NewBreakerService(email.NewSMTPService(cfg.Mail), circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "smtp",
			MaxFailures: cfg.Mail.BreakerFailures,
			Cooldown:    cfg.Mail.BreakerCooldown,
		}), appLog)
	} else {
		appLog.Warn("mail.host is empty, password reset mail is only logged")
		mailer = email.NewLogService(appLog)
	}

	files, err := storage.NewDisk(cfg.Storage.Root, cfg.Storage.PublicURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare storage")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New("bionote", registry)

	intake := upload.NewIntake(files, upload.Config{
		MaxBytes:     cfg.Storage.MaxUploadBytes,
		MaxURLLength: cfg.Storage.MaxURLLength,
	}, m, appLog)

	hasher := security.NewBcryptHasher(cfg.Security.BcryptCost)
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenTTL())

	// Initialize services
	pairSvc := pairing.NewService(store, hasher, intake, m, appLog)
	authSvc := authService.NewService(store, jwtSvc, hasher, limiter, authService.Limits{
		Max:    cfg.Throttle.LoginMax,
		Window: cfg.Throttle.LoginWindow,
	}, intake, m, appLog)
	clinicSvc := clinicService.NewService(store, pairSvc, intake, cfg.Clinics.Countries, cfg.Clinics.PerPage, appLog)
	accountSvc := accountService.NewService(store, pairSvc, hasher, cfg.Clinics.PerPage, appLog)
	recordSvc := testrecordService.NewService(store, intake, cfg.Clinics.PerPage, appLog)
	passwordSvc := passwordService.NewService(store, pairSvc, mailer, limiter, passwordService.Limits{
		ForgotMax:    cfg.Throttle.ForgotMax,
		ForgotWindow: cfg.Throttle.ForgotWin,
		ResetMax:     cfg.Throttle.ResetMax,
		ResetWindow:  cfg.Throttle.ResetWin,
	}, cfg.Mail.ResetURL, m, appLog)

	if err := accountSvc.EnsureAdmin(ctx, cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Fatal().Err(err).Msg("failed to seed administrator")
	}

	// Setup router
	r := router.NewRouter(router.Services{
		Auth:        authSvc,
		Clinics:     clinicSvc,
		Accounts:    accountSvc,
		TestRecords: recordSvc,
		Passwords:   passwordSvc,
	}, files, checks, registry, m, appLog, router.RouterConfig{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimit:      cfg.RateLimit.Enabled,
		RateRPS:        cfg.RateLimit.RPS,
		RateBurst:      cfg.RateLimit.Burst,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	// Create server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		appLog.Info("server listening", "addr", srv.Addr, "store", cfg.Database.Driver, "throttle", cfg.Throttle.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	passwordSvc.Wait()

	log.Info().Msg("server exited properly")
}
