package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// pushTrimScript prepends a value and trims the list in one step so that no
// reader can observe the list above its bound and a crash cannot leave the
// push applied without the trim.
var pushTrimScript = redis.NewScript(`
	local key = KEYS[1]
	local max = tonumber(ARGV[2])

	redis.call('LPUSH', key, ARGV[1])
	redis.call('LTRIM', key, 0, max - 1)

	return redis.call('LLEN', key)
`)

// RedisOptions configures the connection to a Redis server.
type RedisOptions struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port address of the server.
func (o RedisOptions) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Redis implements Store on top of a Redis server.
type Redis struct {
	client *redis.Client
	log    zerolog.Logger
}

// OpenRedis connects to Redis and verifies the connection. An error here is
// meant to be fatal: the server must not accept connections without its
// store.
func OpenRedis(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	r := NewRedis(client, logger)
	if err := r.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	r.log.Info().Str("addr", opts.Addr()).Int("db", opts.DB).Msg("connected to redis")
	return r, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		log:    logger.With().Str("component", "store").Logger(),
	}
}

func (r *Redis) PushTrim(ctx context.Context, key string, value []byte, max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("push %s: invalid bound %d", key, max)
	}

	n, err := pushTrimScript.Run(ctx, r.client, []string{key}, value, max).Int()
	if err != nil {
		return 0, unavailable("push", key, err)
	}
	return n, nil
}

func (r *Redis) Range(ctx context.Context, key string, offset, limit int) ([]string, int, error) {
	if offset < 0 {
		offset = 0
	}

	var (
		values *redis.StringSliceCmd
		length *redis.IntCmd
	)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if limit > 0 {
			values = p.LRange(ctx, key, int64(offset), int64(offset+limit-1))
		}
		length = p.LLen(ctx, key)
		return nil
	})
	if err != nil {
		return nil, 0, unavailable("range", key, err)
	}

	var out []string
	if values != nil {
		out = values.Val()
	}
	return out, int(length.Val()), nil
}

func (r *Redis) AddMember(ctx context.Context, key, member string) (bool, error) {
	added, err := r.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, unavailable("sadd", key, err)
	}
	return added > 0, nil
}

func (r *Redis) Members(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable("smembers", key, err)
	}
	return members, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return unavailable("publish", channel, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)

	// Wait for the server to confirm so that nothing published after this
	// call returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable("subscribe", channel, err)
	}

	sub := &redisSubscription{
		channel: channel,
		ps:      ps,
		done:    make(chan struct{}),
	}
	go sub.run(handler, r.log)

	r.log.Debug().Str("channel", channel).Msg("subscribed")
	return sub, nil
}

func (r *Redis) Flush(ctx context.Context) error {
	if err := r.client.FlushDB(ctx).Err(); err != nil {
		return unavailable("flush", "*", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	channel string
	ps      *redis.PubSub
	once    sync.Once
	done    chan struct{}
}

func (s *redisSubscription) run(handler Handler, logger zerolog.Logger) {
	defer close(s.done)

	for msg := range s.ps.Channel() {
		dispatch(handler, []byte(msg.Payload), s.channel, logger)
	}
}

func (s *redisSubscription) Channel() string {
	return s.channel
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}

// dispatch shields the subscription loop from a panicking handler.
func dispatch(handler Handler, payload []byte, channel string, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("channel", channel).Interface("panic", r).Msg("recovered from panic in subscription handler")
		}
	}()
	handler(payload)
}

func unavailable(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	return fmt.Errorf("%s %s: %w: %v", op, key, ErrUnavailable, err)
}
