package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"account-server/internal/config"
	"account-server/internal/credentials"
	"account-server/internal/domain"
	"account-server/internal/events"
	apphttp "account-server/internal/http"
	"account-server/internal/oauth"
	"account-server/internal/repository/sqlite"
	"account-server/internal/service"
	"account-server/internal/storage"
	"account-server/internal/token"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	bus := events.NewBus()
	creds := credentials.NewEngine()
	userService := service.NewUserService(userRepo, creds, bus)
	issuer := token.NewIssuer([]byte(cfg.Auth.JWTSecret), time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)

	archiver, err := buildArchiver(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup profile archive: %v", err)
	}

	linker := oauth.NewLinker(userService, userRepo, archiver, logger)
	providers := buildProviders(cfg, logger)

	if cfg.SeedDB {
		seedUsers(ctx, userService, logger)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, linker, providers, issuer, cfg.Server.BaseURL, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func buildProviders(cfg config.Config, logger *logrus.Logger) map[domain.Provider]*oauth.Provider {
	providers := map[domain.Provider]*oauth.Provider{}

	add := func(p *oauth.Provider, pc config.ProviderConfig) {
		if !pc.Configured() {
			return
		}
		providers[p.Name] = p
		logger.Infof("oauth provider %s enabled", p.Name)
	}

	add(oauth.NewFacebook(oauth.Credentials(cfg.OAuth.Facebook)), cfg.OAuth.Facebook)
	add(oauth.NewGoogle(oauth.Credentials(cfg.OAuth.Google)), cfg.OAuth.Google)
	add(oauth.NewTwitter(oauth.Credentials(cfg.OAuth.Twitter)), cfg.OAuth.Twitter)

	return providers
}

// buildArchiver sets up the S3 audit archive for raw OAuth profiles.
// No bucket configured means no archive, which is fine: the payload is
// still kept on the user record.
func buildArchiver(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.ProfileArchiver, error) {
	if cfg.Storage.Bucket == "" {
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving oauth profiles to s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Archiver(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix), nil
}

// seedUsers creates the development accounts. Existing accounts are
// left alone.
func seedUsers(ctx context.Context, users service.UserService, logger *logrus.Logger) {
	seeds := []service.CreateUser{
		{Name: "Test User", Email: "test@example.com", Password: "test", Role: domain.RoleUser},
		{Name: "Admin", Email: "admin@example.com", Password: "admin", Role: domain.RoleAdmin},
	}
	for _, seed := range seeds {
		if _, err := users.Create(ctx, seed); err != nil {
			var verr *service.ValidationError
			if errors.As(err, &verr) {
				logger.Debugf("seed %s: %s", seed.Email, verr.Message)
				continue
			}
			logger.Warnf("seed %s: %v", seed.Email, err)
			continue
		}
		logger.Infof("seeded user %s", seed.Email)
	}
}
