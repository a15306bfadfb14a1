package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/bloodbridge/platform/internal/shared/config"
	"github.com/bloodbridge/platform/internal/shared/errors"
	"github.com/bloodbridge/platform/internal/shared/types"
)

// CallContext is what the IVR needs to speak to a donor and record their
// answer. It lives only for the lifetime of a call.
type CallContext struct {
	DonorName     string   `json:"donor_name"`
	BloodGroup    string   `json:"blood_group"`
	HospitalName  string   `json:"hospital_name"`
	HospitalPhone string   `json:"hospital_phone"`
	Message       string   `json:"message"`
	RequestID     types.ID `json:"request_id"`
	DonorID       types.ID `json:"donor_id"`
}

// Answerable reports whether an IVR answer can be recorded against a request.
func (c *CallContext) Answerable() bool {
	return c != nil && !c.RequestID.IsZero() && !c.DonorID.IsZero()
}

// CallStore keeps call contexts keyed by an opaque call id.
type CallStore interface {
	Put(ctx context.Context, call CallContext) (string, error)
	Get(ctx context.Context, cid string) (*CallContext, error)
	Delete(ctx context.Context, cid string) error
}

// NewCallStore builds the backend selected in cfg.
func NewCallStore(ctx context.Context, cfg config.CallContextConfig, rcfg config.RedisConfig) (CallStore, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     rcfg.Addr,
			Password: rcfg.Password,
			DB:       rcfg.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return NewRedisCallStore(client, cfg.TTL), nil
	default:
		return NewMemoryCallStore(cfg.TTL), nil
	}
}

// MemoryCallStore keeps contexts in process memory with expiry.
type MemoryCallStore struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMemoryCallStore creates an in-process store
func NewMemoryCallStore(ttl time.Duration) *MemoryCallStore {
	return &MemoryCallStore{
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func (s *MemoryCallStore) Put(_ context.Context, call CallContext) (string, error) {
	cid := uuid.NewString()
	s.cache.Set(cid, call, s.ttl)
	return cid, nil
}

func (s *MemoryCallStore) Get(_ context.Context, cid string) (*CallContext, error) {
	v, found := s.cache.Get(cid)
	if !found {
		return nil, errors.NotFound("call context", cid)
	}
	call := v.(CallContext)
	return &call, nil
}

func (s *MemoryCallStore) Delete(_ context.Context, cid string) error {
	s.cache.Delete(cid)
	return nil
}

// RedisCallStore shares contexts between replicas.
type RedisCallStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCallStore creates a redis-backed store
func NewRedisCallStore(client *redis.Client, ttl time.Duration) *RedisCallStore {
	return &RedisCallStore{client: client, ttl: ttl}
}

func callKey(cid string) string {
	return "callctx:" + cid
}

func (s *RedisCallStore) Put(ctx context.Context, call CallContext) (string, error) {
	data, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("failed to marshal call context: %w", err)
	}
	cid := uuid.NewString()
	if err := s.client.Set(ctx, callKey(cid), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store call context: %w", err)
	}
	return cid, nil
}

func (s *RedisCallStore) Get(ctx context.Context, cid string) (*CallContext, error) {
	data, err := s.client.Get(ctx, callKey(cid)).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFound("call context", cid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call context: %w", err)
	}

	var call CallContext
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call context: %w", err)
	}
	return &call, nil
}

func (s *RedisCallStore) Delete(ctx context.Context, cid string) error {
	return s.client.Del(ctx, callKey(cid)).Err()
}

// Close releases the redis connection pool.
func (s *RedisCallStore) Close() error {
	return s.client.Close()
}
