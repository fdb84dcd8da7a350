package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "nysc:2fa"
	maxConsumeRetries  = 4
)

var ErrChallengeBackend = errors.New("challenge backend unavailable")

type redisChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisChallengeStore keeps challenges in Redis with a TTL matching their
// expiry, so stale records disappear without a sweep.
func NewRedisChallengeStore(client redis.UniversalClient, prefix string) ChallengeStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisChallengeStore{redis: client, prefix: prefix}
}

func (s *redisChallengeStore) challengeKey(stateCode string) string {
	return s.prefix + ":challenge:" + stateCode
}

func (s *redisChallengeStore) codeKey(stateCode string) string {
	return s.prefix + ":code:" + stateCode
}

func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func (s *redisChallengeStore) set(ctx context.Context, key string, value interface{}, expiresAt time.Time) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, encoded, ttlUntil(expiresAt)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func (s *redisChallengeStore) get(ctx context.Context, key string, into interface{}) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return json.Unmarshal(data, into)
}

// consume deletes key inside a WATCH transaction if matches accepts the
// current value.
func (s *redisChallengeStore) consume(ctx context.Context, key string, matches func([]byte) bool) (bool, error) {
	for i := 0; i < maxConsumeRetries; i++ {
		consumed := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			if !matches(data) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				consumed = true
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, nil
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return consumed, nil
	}
	return false, nil
}

func (s *redisChallengeStore) del(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// The model types hide their secrets from JSON, so Redis gets its own
// record shapes.
type challengeRecord struct {
	StateCode string               `json:"sc"`
	TempToken string               `json:"tt"`
	Kind      models.ChallengeKind `json:"k"`
	ExpiresAt time.Time            `json:"exp"`
	CreatedAt time.Time            `json:"iat"`
}

type codeRecord struct {
	StateCode string    `json:"sc"`
	Code      string    `json:"c"`
	ExpiresAt time.Time `json:"exp"`
	CreatedAt time.Time `json:"iat"`
}

func (s *redisChallengeStore) SaveAuthChallenge(ctx context.Context, challenge *models.AuthChallenge) error {
	record := challengeRecord{
		StateCode: challenge.StateCode,
		TempToken: challenge.TempToken,
		Kind:      challenge.Kind,
		ExpiresAt: challenge.ExpiresAt,
		CreatedAt: challenge.CreatedAt,
	}
	return s.set(ctx, s.challengeKey(challenge.StateCode), record, challenge.ExpiresAt)
}

func (s *redisChallengeStore) GetAuthChallenge(ctx context.Context, stateCode string) (*models.AuthChallenge, error) {
	var record challengeRecord
	if err := s.get(ctx, s.challengeKey(stateCode), &record); err != nil {
		return nil, err
	}
	return &models.AuthChallenge{
		StateCode: record.StateCode,
		TempToken: record.TempToken,
		Kind:      record.Kind,
		ExpiresAt: record.ExpiresAt,
		CreatedAt: record.CreatedAt,
	}, nil
}

func (s *redisChallengeStore) ConsumeAuthChallenge(ctx context.Context, stateCode, tempToken string) (bool, error) {
	return s.consume(ctx, s.challengeKey(stateCode), func(data []byte) bool {
		var current challengeRecord
		return json.Unmarshal(data, &current) == nil && current.TempToken == tempToken
	})
}

func (s *redisChallengeStore) DeleteAuthChallenge(ctx context.Context, stateCode string) error {
	return s.del(ctx, s.challengeKey(stateCode))
}

func (s *redisChallengeStore) SaveTwoFactorCode(ctx context.Context, code *models.TwoFactorCode) error {
	record := codeRecord{
		StateCode: code.StateCode,
		Code:      code.Code,
		ExpiresAt: code.ExpiresAt,
		CreatedAt: code.CreatedAt,
	}
	return s.set(ctx, s.codeKey(code.StateCode), record, code.ExpiresAt)
}

func (s *redisChallengeStore) GetTwoFactorCode(ctx context.Context, stateCode string) (*models.TwoFactorCode, error) {
	var record codeRecord
	if err := s.get(ctx, s.codeKey(stateCode), &record); err != nil {
		return nil, err
	}
	return &models.TwoFactorCode{
		StateCode: record.StateCode,
		Code:      record.Code,
		ExpiresAt: record.ExpiresAt,
		CreatedAt: record.CreatedAt,
	}, nil
}

func (s *redisChallengeStore) ConsumeTwoFactorCode(ctx context.Context, stateCode, code string) (bool, error) {
	return s.consume(ctx, s.codeKey(stateCode), func(data []byte) bool {
		var current codeRecord
		return json.Unmarshal(data, &current) == nil && current.Code == code
	})
}

func (s *redisChallengeStore) DeleteTwoFactorCode(ctx context.Context, stateCode string) error {
	return s.del(ctx, s.codeKey(stateCode))
}

func (s *redisChallengeStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
