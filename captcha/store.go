package captcha

import (
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
)

// Store keeps the verification key of each pending captcha handle.
type Store interface {
	// Fetch returns ErrCaptchaHandleNotFound for unknown or expired handles.
	Fetch(handle string) (*Entry, error)
	// Insert stores e unless its handle exists, reporting whether it did.
	Insert(e *Entry, expire time.Duration) (bool, error)
}

type Entry struct {
	Handle string `json:"h"`
	Verify string `json:"v"`
}

func encodeEntry(e *Entry) (string, error) {
	buf, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeEntry(data string) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

type redisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg RedisConfig) Store {
	return &redisStore{
		client: redis.NewClient(&redis.Options{
			Network:  cfg.Network,
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (s *redisStore) Fetch(handle string) (*Entry, error) {
	data, err := s.client.Get(handle).Result()
	if err == redis.Nil {
		return nil, ErrCaptchaHandleNotFound
	} else if err != nil {
		return nil, err
	}
	return decodeEntry(data)
}

func (s *redisStore) Insert(e *Entry, expire time.Duration) (bool, error) {
	data, err := encodeEntry(e)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(e.Handle, data, expire).Result()
}
