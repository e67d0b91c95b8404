package redis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/domain"
	"quiz-proctor/internal/infra/memory"
)

// QuestionCache caches generated question sets in Redis and falls back to the generator on a miss.
// Sets are stored as: SET quiz:questions:{sha1(request)} {json} EX ttl(+jitter)
type QuestionCache struct {
	client *redis.Client
	next   app.QuestionGenerator
	ttl    time.Duration
	log    zerolog.Logger
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, next app.QuestionGenerator, ttl time.Duration, log zerolog.Logger) *QuestionCache {
	return &QuestionCache{
		client: client,
		next:   next,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) Generate(ctx context.Context, req app.GenerateRequest) ([]domain.Question, error) {
	key := c.key(req)
	if questions, ok := c.lookup(ctx, key); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := c.lookup(ctx, key); ok {
			return questions, nil
		}
		questions, err := c.next.Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(questions)
		if err == nil {
			err = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("question cache write failed")
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCache) lookup(ctx context.Context, key string) ([]domain.Question, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(data, &questions); err != nil || len(questions) == 0 {
		return nil, false
	}
	return questions, true
}

func (c *QuestionCache) key(req app.GenerateRequest) string {
	sum := sha1.Sum([]byte(memory.CacheKey(req)))
	return "quiz:questions:" + hex.EncodeToString(sum[:])
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
