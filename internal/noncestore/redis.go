package noncestore

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Mohsinsiddi/w3permit/internal/eip712"
	"github.com/Mohsinsiddi/w3permit/internal/permit"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix     = "w3permit:nonce"
	defaultMaxRetries = 4
)

// Errors.
var (
	ErrStoreBusy     = errors.New("nonce store busy")
	ErrCorruptNonce  = errors.New("corrupt nonce value")
	ErrRedisNotReady = errors.New("redis not ready")
)

// RedisStore keeps permit nonces in Redis so several processes can share
// them. Check-and-increment runs as a WATCH/MULTI transaction.
type RedisStore struct {
	rdb        redis.UniversalClient
	prefix     string
	maxRetries int
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithPrefix sets the key prefix. Keys are "<prefix>:<lowercase owner>".
func WithPrefix(p string) Option {
	return func(s *RedisStore) {
		if p != "" {
			s.prefix = p
		}
	}
}

// WithMaxRetries bounds how often a conflicting transaction is retried.
func WithMaxRetries(n int) Option {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient, opts ...Option) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: defaultPrefix, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Nonce returns owner's next nonce. Missing keys read as zero.
func (s *RedisStore) Nonce(ctx context.Context, owner common.Address) (*big.Int, error) {
	return readNonce(ctx, s.rdb, s.key(owner))
}

// ConsumeNonce increments owner's nonce if it equals expected.
func (s *RedisStore) ConsumeNonce(ctx context.Context, owner common.Address, expected *big.Int) error {
	if err := eip712.CheckUint256("nonce", expected); err != nil {
		return err
	}
	key := s.key(owner)
	return s.update(ctx, key, func(current *big.Int) (*big.Int, error) {
		if current.Cmp(expected) != 0 {
			return nil, fmt.Errorf("%w: have %s, got %s", permit.ErrNonceMismatch, current, expected)
		}
		if current.Cmp(math.MaxBig256) == 0 {
			return nil, fmt.Errorf("%w: nonce", eip712.ErrOverflow)
		}
		return new(big.Int).Add(current, big.NewInt(1)), nil
	})
}

// RestoreNonce rolls owner's nonce back to nonce if it currently equals nonce+1.
func (s *RedisStore) RestoreNonce(ctx context.Context, owner common.Address, nonce *big.Int) error {
	if err := eip712.CheckUint256("nonce", nonce); err != nil {
		return err
	}
	key := s.key(owner)
	return s.update(ctx, key, func(current *big.Int) (*big.Int, error) {
		if current.Cmp(new(big.Int).Add(nonce, big.NewInt(1))) != 0 {
			return nil, fmt.Errorf("%w: cannot restore %s, have %s", permit.ErrNonceMismatch, nonce, current)
		}
		return new(big.Int).Set(nonce), nil
	})
}

// update applies next to the stored value under WATCH, retrying on conflicts.
func (s *RedisStore) update(ctx context.Context, key string, next func(current *big.Int) (*big.Int, error)) error {
	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := readNonce(ctx, tx, key)
			if err != nil {
				return err
			}
			updated, err := next(current)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated.String(), 0)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s changed %d times", ErrStoreBusy, key, s.maxRetries)
}

func (s *RedisStore) key(owner common.Address) string {
	return s.prefix + ":" + strings.ToLower(owner.Hex())
}

// getter is the read side shared by clients and WATCH transactions.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readNonce(ctx context.Context, c getter, key string) (*big.Int, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s = %q", ErrCorruptNonce, key, raw)
	}
	return n, nil
}

// ConnectConfig controls Connect.
type ConnectConfig struct {
	URL            string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// Connect parses cfg.URL and pings the server until it answers or the
// attempts run out.
func Connect(ctx context.Context, cfg ConnectConfig) (*redis.Client, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	for range cfg.RetryAttempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrRedisNotReady
}
