package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const memoryQueueSize = 1024

// Memory is an in-process Store. It only fans out within the current
// process, so it stands in for Redis in single-node deployments and tests.
type Memory struct {
	mu     sync.RWMutex
	lists  map[string][]string
	sets   map[string]map[string]struct{}
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
	log    zerolog.Logger
}

// NewMemory returns an empty in-process store.
func NewMemory(logger zerolog.Logger) *Memory {
	return &Memory{
		lists: make(map[string][]string),
		sets:  make(map[string]map[string]struct{}),
		subs:  make(map[string]map[*memorySubscription]struct{}),
		log:   logger.With().Str("component", "store").Logger(),
	}
}

func (m *Memory) PushTrim(ctx context.Context, key string, value []byte, max int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if max <= 0 {
		return 0, fmt.Errorf("push %s: invalid bound %d", key, max)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("push %s: %w", key, ErrUnavailable)
	}

	list := make([]string, 0, len(m.lists[key])+1)
	list = append(list, string(value))
	list = append(list, m.lists[key]...)
	if len(list) > max {
		list = list[:max]
	}
	m.lists[key] = list
	return len(list), nil
}

func (m *Memory) Range(ctx context.Context, key string, offset, limit int) ([]string, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, 0, fmt.Errorf("range %s: %w", key, ErrUnavailable)
	}

	list := m.lists[key]
	total := len(list)
	if limit <= 0 || offset >= total {
		return nil, total, nil
	}

	end := offset + limit
	if end > total {
		end = total
	}
	return append([]string(nil), list[offset:end]...), total, nil
}

func (m *Memory) AddMember(ctx context.Context, key, member string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, fmt.Errorf("sadd %s: %w", key, ErrUnavailable)
	}

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	if _, exists := set[member]; exists {
		return false, nil
	}
	set[member] = struct{}{}
	return true, nil
}

func (m *Memory) Members(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("smembers %s: %w", key, ErrUnavailable)
	}

	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("publish %s: %w", channel, ErrUnavailable)
	}
	targets := make([]*memorySubscription, 0, len(m.subs[channel]))
	for sub := range m.subs[channel] {
		targets = append(targets, sub)
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(payload)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		channel: channel,
		owner:   m,
		queue:   make(chan []byte, memoryQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", channel, ErrUnavailable)
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySubscription]struct{})
	}
	m.subs[channel][sub] = struct{}{}
	m.mu.Unlock()

	go sub.run(handler, m.log)
	return sub, nil
}

func (m *Memory) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = make(map[string][]string)
	m.sets = make(map[string]map[string]struct{})
	return nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrUnavailable
	}
	return nil
}

// Close stops every subscription and rejects further operations.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var subs []*memorySubscription
	for _, set := range m.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (m *Memory) detach(sub *memorySubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[sub.channel], sub)
	if len(m.subs[sub.channel]) == 0 {
		delete(m.subs, sub.channel)
	}
}

type memorySubscription struct {
	channel string
	owner   *Memory
	queue   chan []byte
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) enqueue(payload []byte) {
	msg := append([]byte(nil), payload...)
	select {
	case s.queue <- msg:
	case <-s.quit:
	}
}

func (s *memorySubscription) run(handler Handler, logger zerolog.Logger) {
	defer close(s.done)

	for {
		select {
		case payload := <-s.queue:
			dispatch(handler, payload, s.channel, logger)
		case <-s.quit:
			return
		}
	}
}

func (s *memorySubscription) Channel() string {
	return s.channel
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.owner.detach(s)
		close(s.quit)
		<-s.done
	})
	return nil
}
