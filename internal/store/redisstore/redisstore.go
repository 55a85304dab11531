// Package redisstore shares checkout total reservations across instances through Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leotyps/jkt48connect/pkg/checkout"
)

const (
	// DefaultKeyPrefix namespaces reservation keys.
	DefaultKeyPrefix = "jkt48connect:checkout:total:"

	pingTimeout         = 2 * time.Second
	errorOperationStore = "redis"
	errorSubjectTotal   = "total"
	errorCodeReserve    = "reserve"
	errorCodeRelease    = "release"
	errorCodePing       = "ping"
	defaultPoolSize     = 20
	defaultMaxRetries   = 3
	defaultMinIdleConns = 2
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

var ErrInvalidConfig = errors.New("invalid redis reserver config")

// Open connects to a redis:// URL, falling back to treating it as host:port.
func Open(ctx context.Context, rawURL string) (*redis.Client, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: url is empty", ErrInvalidConfig)
	}
	options, err := redis.ParseURL(trimmed)
	if err != nil {
		options = &redis.Options{Addr: trimmed}
	}
	options.PoolSize = defaultPoolSize
	options.MinIdleConns = defaultMinIdleConns
	options.MaxRetries = defaultMaxRetries
	client := redis.NewClient(options)
	if err := Ping(ctx, client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Ping checks the connection with a short timeout.
func Ping(ctx context.Context, client redis.Cmdable) error {
	pingContext, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingContext).Err(); err != nil {
		return checkout.WrapError(errorOperationStore, "connection", errorCodePing, err)
	}
	return nil
}

// Option configures a Reserver.
type Option func(*Reserver)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(reserver *Reserver) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			reserver.prefix = trimmed
		}
	}
}

// WithTokenSource overrides how reservation tokens are generated.
func WithTokenSource(source func() string) Option {
	return func(reserver *Reserver) {
		if source != nil {
			reserver.newToken = source
		}
	}
}

// Reserver implements checkout.TotalReserver with SET NX.
type Reserver struct {
	client   redis.Cmdable
	prefix   string
	newToken func() string

	mutex  sync.Mutex
	tokens map[checkout.Amount]string
}

// NewReserver constructs a Reserver.
func NewReserver(client redis.Cmdable, options ...Option) (*Reserver, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client is nil", ErrInvalidConfig)
	}
	reserver := &Reserver{
		client:   client,
		prefix:   DefaultKeyPrefix,
		newToken: uuid.NewString,
		tokens:   make(map[checkout.Amount]string),
	}
	for _, option := range options {
		if option != nil {
			option(reserver)
		}
	}
	return reserver, nil
}

// Reserve claims total for ttl; false means another session holds it.
// A total held by this reserver stays taken until Release, even when its key
// expired remotely.
func (reserver *Reserver) Reserve(ctx context.Context, total checkout.Amount, ttl time.Duration) (bool, error) {
	reserver.mutex.Lock()
	_, held := reserver.tokens[total]
	reserver.mutex.Unlock()
	if held {
		return false, nil
	}
	token := reserver.newToken()
	reserved, err := reserver.client.SetNX(ctx, reserver.key(total), token, ttl).Result()
	if err != nil {
		return false, checkout.WrapError(errorOperationStore, errorSubjectTotal, errorCodeReserve, err)
	}
	if !reserved {
		return false, nil
	}
	reserver.mutex.Lock()
	defer reserver.mutex.Unlock()
	if _, held := reserver.tokens[total]; held {
		return false, nil
	}
	reserver.tokens[total] = token
	return true, nil
}

// Release frees total if this reserver still holds it.
func (reserver *Reserver) Release(ctx context.Context, total checkout.Amount) error {
	reserver.mutex.Lock()
	token, ok := reserver.tokens[total]
	delete(reserver.tokens, total)
	reserver.mutex.Unlock()
	if !ok {
		return nil
	}
	if err := reserver.client.Eval(ctx, releaseScript, []string{reserver.key(total)}, token).Err(); err != nil {
		return checkout.WrapError(errorOperationStore, errorSubjectTotal, errorCodeRelease, err)
	}
	return nil
}

func (reserver *Reserver) key(total checkout.Amount) string {
	return reserver.prefix + strconv.FormatInt(total.Int64(), 10)
}
