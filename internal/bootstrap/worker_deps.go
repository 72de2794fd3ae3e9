package bootstrap

import (
	"context"
	"fmt"
	"time"

	"mailmirror/adapter/out/messaging"
	"mailmirror/adapter/out/persistence"
	"mailmirror/adapter/out/provider"
	"mailmirror/config"
	"mailmirror/core/service/auth"
	"mailmirror/core/service/mail"
	"mailmirror/infra/database"
	"mailmirror/pkg/crypto"
	"mailmirror/pkg/httputil"
	"mailmirror/pkg/logger"
	"mailmirror/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	CredentialRepo *persistence.CredentialAdapter
	SyncStatusRepo *persistence.SyncStatusAdapter
	EmailRepo      *persistence.EmailAdapter

	// Providers
	OAuthProvider *provider.GoogleOAuth
	GmailProvider *provider.GmailAdapter

	// Services
	Vault           *auth.CredentialVault
	SyncCoordinator *mail.SyncCoordinator
	MailService     *mail.Service
	OAuthService    *auth.OAuthService
}

// NewDependencies connects storage and builds every service. Redis is
// optional; without it sync jobs can only run in-process. The returned
// cleanup closes the connections.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// PostgreSQL
	pool, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	closers = append(closers, pool.Close)
	deps.DB = pool
	deps.SQLDB = database.NewSQLX(pool)
	closers = append(closers, func() { deps.SQLDB.Close() })

	if err := database.EnsureSchema(ctx, deps.SQLDB); err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Info("PostgreSQL connected")

	if err := metrics.RegisterPgxPool("postgres", pool); err != nil {
		logger.WithError(err).Warn("Failed to register pgxpool metrics")
	}
	if err := metrics.RegisterSQLDB("postgres_sqlx", deps.SQLDB.DB); err != nil {
		logger.WithError(err).Warn("Failed to register sql.DB metrics")
	}

	// Redis
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() { client.Close() })
		deps.Redis = client
		logger.Info("Redis connected")
	} else {
		logger.Warn("REDIS_URL not set, sync jobs will run in-process only")
	}

	encryptor, err := crypto.NewEncryptorFromHex(cfg.EncryptionKey)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("encryption key: %w", err)
	}

	// Repositories
	deps.CredentialRepo = persistence.NewCredentialAdapter(deps.SQLDB)
	deps.SyncStatusRepo = persistence.NewSyncStatusAdapter(deps.SQLDB)
	deps.EmailRepo = persistence.NewEmailAdapter(deps.SQLDB)

	// Providers
	deps.OAuthProvider = provider.NewGoogleOAuth(provider.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   httputil.NewClient(httputil.OAuthClientConfig()),
	})
	deps.GmailProvider = provider.NewGmailAdapter(provider.GmailConfig{
		RequestTimeout: 30 * time.Second,
		HTTPClient:     httputil.NewClient(httputil.GmailClientConfig()),
	})

	// Services
	deps.Vault = auth.NewCredentialVault(deps.CredentialRepo, deps.OAuthProvider, encryptor)

	paginator := mail.NewLabelPaginator(
		deps.GmailProvider,
		deps.EmailRepo,
		deps.Vault,
		mail.NewNormalizer(),
		mail.PaginatorConfig{
			PageConcurrency: cfg.SyncPageConcurrency,
			ProviderQPS:     cfg.SyncProviderQPS,
		},
	)
	deps.SyncCoordinator = mail.NewSyncCoordinator(
		deps.SyncStatusRepo,
		deps.Vault,
		deps.Vault,
		deps.GmailProvider,
		paginator,
		mail.SyncConfig{
			MaxPerLabel:           cfg.SyncMaxPerLabel,
			IncrementalMax:        cfg.SyncIncrementalMax,
			IncrementalWindowDays: cfg.SyncIncrementalWindowDay,
			LeaseTimeout:          cfg.SyncLeaseTimeout,
		},
	)
	if deps.Redis != nil {
		deps.SyncCoordinator.SetJobPublisher(messaging.NewRedisProducer(deps.Redis))
	}

	deps.MailService = mail.NewService(deps.EmailRepo, deps.GmailProvider, deps.Vault)
	deps.OAuthService = auth.NewOAuthService(deps.Vault, deps.SyncCoordinator)

	return deps, cleanup, nil
}
