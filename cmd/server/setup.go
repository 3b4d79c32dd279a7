package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"authportal/internal/audit"
	"authportal/internal/config"
	"authportal/internal/password"
	"authportal/internal/repository"
	"authportal/internal/repository/postgres"
	"authportal/internal/repository/sqlite"
	"authportal/internal/session"
)

func loadConfig(logger *logrus.Logger) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)
	if strings.EqualFold(cfg.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// store is an opened user store with its migrations applied.
type store struct {
	Users repository.UserRepository
	close func()
}

func (s *store) Close() {
	s.close()
}

func openStore(ctx context.Context, cfg config.Config) (*store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return &store{Users: postgres.NewUserRepository(pool), close: pool.Close}, nil
	default:
		db, err := sqlite.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return &store{Users: sqlite.NewUserRepository(db), close: func() { _ = db.Close() }}, nil
	}
}

func buildHasher(cfg config.Config) (*password.Hasher, error) {
	hasher, err := password.NewHasher(password.Config{
		Algorithm:  password.Algorithm(cfg.Auth.Password.Algorithm),
		BcryptCost: cfg.Auth.Password.BcryptCost,
	})
	if err != nil {
		return nil, fmt.Errorf("setup password hasher: %w", err)
	}
	return hasher, nil
}

// buildRevocations uses redis when configured so that logouts are shared by
// every instance; otherwise revocations live in process memory.
func buildRevocations(ctx context.Context, cfg config.Config, logger *logrus.Logger) (session.RevocationStore, func(), error) {
	if cfg.Redis.Addr == "" {
		memory, err := session.NewMemoryRevocationStore(cfg.SessionTTL())
		if err != nil {
			return nil, nil, fmt.Errorf("setup revocation store: %w", err)
		}
		logger.Info("using in-memory session revocation")
		return memory, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Infof("using redis session revocation at %s", cfg.Redis.Addr)
	return session.NewRedisRevocationStore(client, cfg.Auth.Issuer), func() { _ = client.Close() }, nil
}

// buildAudit always logs events and additionally ships them to S3 when a
// bucket is configured. The returned func flushes pending events.
func buildAudit(ctx context.Context, cfg config.Config, logger *logrus.Logger) (audit.Sink, func(), error) {
	logSink := audit.NewLogSink(logger)
	if cfg.Audit.Bucket == "" {
		return logSink, func() {}, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Audit.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Audit.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Audit.Endpoint)
			o.UsePathStyle = true
		}
	})

	s3Sink, err := audit.NewS3Sink(client, audit.S3Config{
		Bucket:        cfg.Audit.Bucket,
		KeyPrefix:     cfg.Audit.KeyPrefix,
		FlushInterval: cfg.AuditFlushInterval(),
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("setup audit sink: %w", err)
	}
	logger.Infof("shipping audit events to s3 bucket %s (region %s)", cfg.Audit.Bucket, cfg.Audit.Region)

	closeFn := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s3Sink.Close(flushCtx); err != nil {
			logger.Warnf("flush audit events: %v", err)
		}
	}
	return audit.Multi{logSink, s3Sink}, closeFn, nil
}
