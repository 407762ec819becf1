package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ai"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/config"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/database"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reviews"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/server"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/tutor"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// appEnv bundles the loaded configuration with the opened database and logger.
type appEnv struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
}

func openAppEnv() (*appEnv, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.OpenAndMigrate(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	cleanup := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return &appEnv{config: appConfig, logger: logger, db: db}, cleanup, nil
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func runServer(ctx context.Context) error {
	env, cleanup, err := openAppEnv()
	if err != nil {
		return err
	}
	defer cleanup()
	appConfig, logger, db := env.config, env.logger, env.db

	tokenIssuer, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	registry := realtime.NewRegistry(realtime.RegistryConfig{
		SendTimeout: appConfig.SendTimeout,
		Logger:      logger,
		Registerer:  prometheus.DefaultRegisterer,
	})

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	communityService, err := community.NewService(community.ServiceConfig{
		Database:         db,
		Logger:           logger,
		ChannelCacheSize: appConfig.ChannelCacheSize,
		ChannelCacheTTL:  appConfig.ChannelCacheTTL,
	})
	if err != nil {
		return err
	}
	engine, err := reputation.NewEngine(reputation.EngineConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:        db,
		Channels:        communityService,
		Counters:        engine,
		Broadcaster:     registry,
		Logger:          logger,
		MessageLimit:    appConfig.MessageLimit,
		MaxMessageLimit: appConfig.MaxMessageLimit,
	})
	if err != nil {
		return err
	}
	notesService, err := notes.NewService(notes.ServiceConfig{Database: db, Channels: communityService, Logger: logger})
	if err != nil {
		return err
	}
	reviewService, err := reviews.NewService(reviews.ServiceConfig{Database: db, Channels: communityService, Logger: logger})
	if err != nil {
		return err
	}
	tutorService, err := tutor.NewService(tutor.ServiceConfig{
		Database: db,
		Completer: ai.NewClient(ai.ClientConfig{
			BaseURL:    appConfig.AIBaseURL,
			APIKey:     appConfig.AIAPIKey,
			Model:      appConfig.AIModel,
			Timeout:    appConfig.AITimeout,
			MaxRetries: appConfig.AIMaxRetries,
			Logger:     logger,
		}),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenIssuer,
		Resolver:       userService,
		Users:          userService,
		Communities:    communityService,
		Chat:           chatService,
		Notes:          notesService,
		Reviews:        reviewService,
		Reputation:     engine,
		Tutor:          tutorService,
		Registry:       registry,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if appConfig.ReconcileInterval > 0 {
		group.Go(func() error {
			reconcileLoop(groupCtx, engine, appConfig.ReconcileInterval, logger)
			return nil
		})
	}
	return group.Wait()
}

// reconcileLoop periodically repairs denormalized counters until ctx is done.
func reconcileLoop(ctx context.Context, engine *reputation.Engine, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := engine.Reconcile(ctx)
			if err != nil {
				logger.Warn("counter reconciliation failed", zap.Error(err))
				continue
			}
			if report.MessagesCorrected > 0 || report.UsersCorrected > 0 {
				logger.Info("counters reconciled",
					zap.Int("messages_corrected", report.MessagesCorrected),
					zap.Int("users_corrected", report.UsersCorrected))
			}
		}
	}
}
