package container

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"categorytree/rewriter/internal/batch"
	"categorytree/rewriter/internal/cache"
	"categorytree/rewriter/internal/client"
	"categorytree/rewriter/internal/config"
	"categorytree/rewriter/internal/repository"
	"categorytree/rewriter/internal/rewriter"
	"categorytree/rewriter/internal/server"
)

// Container holds all initialized components
type Container struct {
	Config     *config.Config
	Rewriter   *rewriter.Rewriter
	Repository repository.CategoryRepository
	Cache      cache.PageCache

	Batch  *batch.Runner
	Server *server.Server

	db    *pgxpool.Pool
	redis *redis.Client
}

// New creates a new container with all dependencies initialized
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	if level, err := log.ParseLevel(cfg.App.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown log level %q, keeping %s", cfg.App.LogLevel, log.GetLevel())
	}

	container := &Container{
		Config:     cfg,
		Rewriter:   rewriter.NewRewriter(cfg.Tree),
		Repository: repository.NewNoopRepository(),
		Cache:      cache.NewNoopPageCache(),
	}

	if cfg.Database.Enabled {
		db, err := pgxpool.New(ctx,
			fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
				cfg.Database.Host,
				cfg.Database.Port,
				cfg.Database.User,
				cfg.Database.Password,
				cfg.Database.Name,
			))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		container.db = db

		repo := repository.NewCategoryRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		container.Repository = repo
		log.Info("✅ Connected to Postgres successfully")
	}

	if cfg.Redis.Enabled && cfg.App.Mode == config.ModeServe {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})

		if _, err := rdb.Ping(ctx).Result(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		container.redis = rdb
		container.Cache = cache.NewRedisPageCache(rdb, time.Duration(cfg.Redis.TTL)*time.Second)
		log.Info("✅ Connected to Redis successfully")
	}

	switch cfg.App.Mode {
	case config.ModeBatch:
		container.Batch = batch.NewRunner(cfg.Batch, container.Rewriter, container.Repository)
	case config.ModeServe:
		container.Server = server.New(
			cfg.Server,
			container.Rewriter,
			client.NewUpstreamClient(cfg.Fetch),
			container.Cache,
			container.Repository,
		)
	}

	return container, nil
}

// Run executes the configured mode
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if c.Batch != nil {
		g.Go(func() error {
			summary, err := c.Batch.Run(ctx)
			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", summary.Failed, summary.Files)
			}
			return nil
		})
	}

	if c.Server != nil {
		g.Go(func() error {
			return c.Server.Run(ctx)
		})
	}

	return g.Wait()
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Info("Shutting down container...")

	if c.db != nil {
		c.db.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			return err
		}
	}

	log.Info("Container shut down successfully")
	return nil
}
