package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/alivehere/internal/brain"
	"github.com/ent0n29/alivehere/internal/config"
	"github.com/ent0n29/alivehere/internal/directory"
	"github.com/ent0n29/alivehere/internal/httpapi"
	"github.com/ent0n29/alivehere/internal/observability"
	"github.com/ent0n29/alivehere/internal/relay"
	"github.com/ent0n29/alivehere/internal/session"
	"github.com/ent0n29/alivehere/internal/storage"
	"github.com/ent0n29/alivehere/internal/transcript"
	"github.com/ent0n29/alivehere/internal/voice"
)

const directoryCachePrefix = "alivehere:directory:"

type VoiceInfo struct {
	Provider       string
	Detail         string
	DefaultModelID string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Relay    *relay.Relay
	Metrics  *observability.Metrics
	Voice    VoiceInfo

	// Cleanup should be called on shutdown to release external resources (DB, Redis).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := storage.NewStore(ctx, storage.Config{
		Backend:  cfg.StorageBackend,
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("object store init failed: %w", err)
	}

	var (
		dir         directory.Directory = directory.NewStoreDirectory(store)
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient, err = directory.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		dir = directory.NewCachedDirectory(dir, redisClient, directoryCachePrefix, cfg.DirectoryCacheTTL, log)
	}

	transcripts, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		closeRedis(redisClient)
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:       cfg.BrainMode,
		HTTPURL:    cfg.BrainHTTPURL,
		HTTPStrict: cfg.BrainHTTPStrict,
	})
	if err != nil {
		_ = transcripts.Close()
		closeRedis(redisClient)
		return nil, fmt.Errorf("brain adapter init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProvider(cfg)
	if err != nil {
		_ = transcripts.Close()
		closeRedis(redisClient)
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	rel := relay.New(relay.Config{
		TTSModelID:   voiceSetup.defaultModelID,
		TTSSettings:  voice.TTSSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: 1.0},
		HistoryLimit: cfg.TranscriptHistoryLimit,
	}, sessions, adapter, voiceSetup.ttsProvider, store, transcripts, metrics, log.WithField("component", "relay"))

	api := httpapi.New(cfg, sessions, rel, dir, store, metrics, log.WithField("component", "http"))

	cleanup := func() error {
		var errs []string
		if err := transcripts.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Relay:    rel,
		Metrics:  metrics,
		Voice: VoiceInfo{
			Provider:       voiceSetup.resolvedProvider,
			Detail:         voiceSetup.detail,
			DefaultModelID: voiceSetup.defaultModelID,
		},
		Cleanup: cleanup,
	}, nil
}

func closeRedis(c *redis.Client) {
	if c != nil {
		_ = c.Close()
	}
}
