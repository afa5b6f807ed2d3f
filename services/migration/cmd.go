package migration

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/opengovern/og-util/pkg/httpserver"
	"github.com/opengovern/og-util/pkg/koanf"
	"github.com/opengovern/og-util/pkg/postgres"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opengovern/og-search-migration/services/migration/config"
	"github.com/opengovern/og-search-migration/services/migration/db"
	"github.com/opengovern/og-search-migration/services/migration/discovery"
	"github.com/opengovern/og-search-migration/services/migration/osindex"
	"github.com/opengovern/og-search-migration/services/migration/runlock"
	"github.com/opengovern/og-search-migration/services/migration/scheduler"
	"github.com/opengovern/og-search-migration/services/migration/vespa"
	"github.com/opengovern/og-search-migration/services/migration/worker"
)

func Command() *cobra.Command {
	return &cobra.Command{
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return start(cmd.Context())
		},
	}
}

func start(ctx context.Context) error {
	cfg := koanf.Provide("search-migration", config.Config{})

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	logger = logger.Named("search-migration")

	postgresCfg := postgres.Config{
		Host:    cfg.Postgres.Host,
		Port:    cfg.Postgres.Port,
		User:    cfg.Postgres.Username,
		Passwd:  cfg.Postgres.Password,
		DB:      cfg.Postgres.DB,
		SSLMode: cfg.Postgres.SSLMode,
	}
	orm, err := postgres.NewClient(&postgresCfg, logger)
	if err != nil {
		return fmt.Errorf("new postgres client: %w", err)
	}
	database := db.Database{Orm: orm}
	logger.Info("connected to the postgres database", zap.String("database", cfg.Postgres.DB))

	if err := database.Initialize(); err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.ElasticSearch.Address},
		Username:  cfg.ElasticSearch.Username,
		Password:  cfg.ElasticSearch.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("new opensearch client: %w", err)
	}

	vespaTimeout := time.Duration(cfg.Vespa.TimeoutSeconds) * time.Second
	if vespaTimeout == 0 {
		vespaTimeout = 30 * time.Second
	}
	vespaClient := vespa.NewClient(logger, cfg.Vespa.BaseURL, vespaTimeout)
	destIndex := osindex.NewIndex(logger, osClient)

	cursor := discovery.NewCursor(logger, database)
	migrationWorker := worker.New(logger, database, vespaClient, destIndex)
	lock := runlock.New(redisClient)

	sched := scheduler.New(logger, database, cursor, migrationWorker, lock)
	sched.Run(ctx)

	routes := &httpRoutes{
		logger: logger,
		db:     database,
	}
	return httpserver.RegisterAndStart(ctx, logger, cfg.Http.Address, routes)
}
