package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"houseparty-server/config"
	"houseparty-server/handlers"
	"houseparty-server/middleware"
	"houseparty-server/realtime"
	"houseparty-server/services"
	"houseparty-server/store"
	"houseparty-server/utils/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return store.NewMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	db, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			log.WithError(err).Warn("failed to close store")
		}
	}()

	users := db.Users
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable, user cache will miss until it recovers")
		}
		users = store.NewCachedUserStore(users, store.NewRedisCache(rdb), cfg.UserCacheTTL)
		log.WithField("addr", cfg.RedisAddr).Info("user cache enabled")
	}

	var mailer services.Mailer = services.LogMailer{}
	if cfg.EmailConfigured() {
		mailer = services.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom)
	} else {
		log.Warn("SMTP not configured, emails will be logged")
	}

	var sender services.PushSender = services.NoopSender{}
	if cfg.PushConfigured() {
		fcm, err := services.NewFCMSender(ctx, cfg.FirebaseServiceAccount, cfg.FirebaseCredentialsFile)
		if err != nil {
			return err
		}
		sender = fcm
	} else {
		log.Warn("FCM not configured, push notifications disabled")
	}

	video := services.NewVideoTokenIssuer(cfg.AgoraAppID, cfg.AgoraAppCertificate, cfg.AgoraTokenTTL)
	if !cfg.VideoConfigured() {
		log.Warn("Agora not configured, parties and video tokens are unavailable")
	}

	tokens := services.NewTokenService(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	otps := services.NewOTPService(db.OTPs, cfg.OTPTTL, cfg.OTPMaxAttempts)
	notifier := services.NewNotificationService(users, sender, cfg.PushBatchSize, cfg.PushBatchDelay)
	coord := realtime.NewCoordinator(users)

	auth := services.NewAuthService(users, otps, tokens, mailer)
	friends := services.NewFriendService(users, db.Invitations, notifier, coord, cfg.FriendInviteTTL)
	parties := services.NewPartyService(services.PartyServiceDeps{
		Parties:     db.Parties,
		Users:       users,
		Invitations: db.Invitations,
		Video:       video,
		Notifier:    notifier,
		Events:      coord,
		Mailer:      mailer,
		InviteTTL:   cfg.PartyInviteTTL,
	})

	sweeper := services.NewSweeper(db.OTPs, db.Invitations)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if err := limiter.TrustProxies(cfg.TrustedProxyList()); err != nil {
		return err
	}

	authenticate := func(ctx context.Context, token string) (string, bool) {
		return tokens.Verify(ctx, token, services.AccessToken)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Auth:           auth,
		Tokens:         tokens,
		Users:          services.NewUserService(users),
		Friends:        friends,
		Parties:        parties,
		Video:          video,
		Realtime:       realtime.ServeWS(coord, authenticate, cfg.AllowedOrigins(), middleware.WriteError),
		Ping:           db.Ping,
		AuthLimiter:    limiter,
		AllowedOrigins: cfg.AllowedOrigins(),
		Production:     cfg.IsProduction(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).WithField("env", cfg.Env).Info("server listening")
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

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	coord.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown timed out")
	}
	notifier.Wait()
	return nil
}
