package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bizdash/internal/activity"
	"bizdash/internal/amqp"
	"bizdash/internal/auth"
	"bizdash/internal/cache"
	"bizdash/internal/dataservice/memory"
	"bizdash/internal/log"
	"bizdash/internal/seed"
	"bizdash/internal/storage"
)

const cacheCleanupInterval = 5 * time.Minute

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		res *BackendResult
		err error
	)
	switch config.Type {
	case SQLiteBackend:
		res, err = f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		res, err = f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	res.Auth = auth.NewProvider(res.Store, auth.Options{
		SessionTTL:        config.SessionTTL,
		AttemptsPerMinute: config.AttemptsPerMinute,
		Hasher:            config.Hasher,
		Logger:            f.logger,
	})
	res.Service = newService(res.Auth, res.Store)

	storeCleanup := res.Cleanup
	res.Cleanup = func() error {
		res.Auth.Close()
		if storeCleanup != nil {
			return storeCleanup()
		}
		return nil
	}
	return res, nil
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, storage.Options{
		Logger:             f.logger,
		MembershipCacheTTL: config.MembershipCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	if config.SeedFile != "" {
		ds, err := seed.Load(config.SeedFile)
		if err != nil {
			repo.Close()
			return nil, err
		}
		stats, err := repo.ImportDataset(ctx, ds, hasherOf(config))
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("import seed data: %w", err)
		}
		f.logger.Info("Imported seed data",
			"seed_file", config.SeedFile,
			"users", stats.Users,
			"businesses", stats.Businesses,
			"invoices", stats.Invoices)
	}

	caches := cache.NewManager(f.logger)
	caches.Register(repo.MembershipCache())
	caches.StartCleanup(cacheCleanupInterval)

	// Without a broker the audit trail is written straight to the database.
	var publisher activity.Publisher = repo
	amqpClient := f.connectAMQP(config)
	if amqpClient != nil {
		publisher = amqpClient
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", amqpClient != nil)

	return &BackendResult{
		Store:    repo,
		Activity: publisher,
		Cleanup: func() error {
			caches.Stop()
			var errs []error
			if amqpClient != nil {
				errs = append(errs, amqpClient.Close())
			}
			errs = append(errs, repo.Close())
			return errors.Join(errs...)
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store := memory.New()
	if config.SeedFile != "" {
		ds, err := seed.Load(config.SeedFile)
		if err != nil {
			return nil, err
		}
		if store, err = memory.NewFromDataset(ds, hasherOf(config)); err != nil {
			return nil, fmt.Errorf("build memory store: %w", err)
		}
	}

	res := &BackendResult{Store: store}
	if amqpClient := f.connectAMQP(config); amqpClient != nil {
		res.Activity = amqpClient
		res.Cleanup = amqpClient.Close
	}

	f.logger.Info("Initialized memory backend",
		"seed_file", config.SeedFile,
		"amqp_enabled", res.Activity != nil)
	return res, nil
}

// connectAMQP returns nil when AMQP is not configured or unreachable; the
// activity trail is optional.
func (f *DefaultFactory) connectAMQP(config Config) *amqp.Client {
	if config.AMQPURL == "" {
		return nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without activity publishing", log.FieldError, err)
		return nil
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client
}

func hasherOf(config Config) auth.Hasher {
	if config.Hasher != nil {
		return *config.Hasher
	}
	return auth.DefaultHasher()
}
