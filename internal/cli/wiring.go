package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/config"
	"quiz-proctor/internal/infra/amqp"
	badgerbuf "quiz-proctor/internal/infra/badger"
	"quiz-proctor/internal/infra/memory"
	"quiz-proctor/internal/infra/openai"
	"quiz-proctor/internal/infra/postgres"
	redisstore "quiz-proctor/internal/infra/redis"
	"quiz-proctor/internal/logger"
)

// runtime holds the adapters selected by configuration. Everything unset falls back to memory.
type runtime struct {
	persistence  app.Persistence
	snapshots    app.SnapshotStore
	buffer       app.AnswerBuffer
	generator    app.QuestionGenerator
	activity     app.ActivitySink
	backlog      *app.ActivityBacklog
	connectivity *app.ConnectivityMonitor

	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func buildRuntime(ctx context.Context, cfg config.Config, log zerolog.Logger) (*runtime, error) {
	rt := &runtime{backlog: app.NewActivityBacklog()}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.persistence = postgres.NewStore(pool)
	} else {
		log.Warn().Msg("postgres not configured, completed sessions are kept in memory")
		rt.persistence = memory.NewStore()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
		rt.snapshots = redisstore.NewSnapshotStore(redisClient, config.Duration(cfg.Redis.TTL, 24*time.Hour))
	} else {
		rt.snapshots = memory.NewSnapshotStore()
	}

	db, err := badgerbuf.Open(badgerbuf.Config{
		Path:       cfg.Badger.Path,
		InMemory:   cfg.Badger.InMemory,
		SyncWrites: !cfg.Badger.InMemory,
	}, logger.Component(log, "badger"))
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = db.Close() })
	rt.buffer = badgerbuf.NewAnswerBuffer(db)

	var generator app.QuestionGenerator = memory.NewStaticGenerator(memory.SampleQuestions())
	if cfg.OpenAI.APIKey != "" {
		generator, err = openai.NewGenerator(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		}, log)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn().Msg("openai not configured, serving the sample question bank")
	}
	cacheTTL := config.Duration(cfg.Quiz.CacheTTL, 10*time.Minute)
	if redisClient != nil {
		rt.generator = redisstore.NewQuestionCache(redisClient, generator, cacheTTL, log)
	} else {
		rt.generator = memory.NewCachedGenerator(generator, cacheTTL)
	}

	rt.activity = rt.persistence
	if cfg.AMQP.URL != "" {
		publisher, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, rt.persistence, log)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, publisher.Close)
		rt.activity = publisher
	}

	rt.connectivity = app.NewConnectivityMonitor(rt.persistence, config.Duration(cfg.Sync.ProbeInterval, 5*time.Second), log)
	ok = true
	return rt, nil
}

func (r *runtime) syncManager(cfg config.Config, log zerolog.Logger) *app.SyncManager {
	return app.NewSyncManager(r.buffer, r.persistence, r.connectivity, cfg.Sync.Concurrency, logger.Component(log, "sync")).
		WithActivityBacklog(r.backlog, r.activity)
}

func monitorConfig(p config.Proctoring) app.MonitorConfig {
	return app.MonitorConfig{
		SampleInterval: config.Duration(p.Motion.Interval, 2*time.Second),
		Motion: app.MotionConfig{
			Width:      p.Motion.Width,
			Height:     p.Motion.Height,
			Threshold:  p.Motion.Threshold,
			PixelRatio: p.Motion.PixelRatio,
		},
	}
}
