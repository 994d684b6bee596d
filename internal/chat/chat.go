// Package chat loads conversations between an owner and a counterpart.
//
// Reads go through the result cache. Before any chat data is returned, cached
// or fresh, the counterpart must pass the eligibility check; the cache itself
// only vouches for freshness.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/roach88/userops/internal/account"
	"github.com/roach88/userops/internal/cache"
	"github.com/roach88/userops/internal/history"
	"github.com/roach88/userops/internal/record"
)

// ErrNotEligible is returned when the counterpart cannot receive messages.
var ErrNotEligible = errors.New("counterpart is not eligible for messaging")

const (
	defaultEligibilityTTL = time.Minute
	eligibilityCleanup    = 5 * time.Minute
)

// Service loads chat history cache-first.
//
// Thread-safety: safe for concurrent use.
type Service struct {
	reader   account.Reader
	cache    *cache.Cache[string]
	eligible *gocache.Cache
	maxAge   time.Duration
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxAge sets the cache freshness bound (default cache.DefaultMaxAge).
func WithMaxAge(d time.Duration) Option {
	return func(s *Service) { s.maxAge = d }
}

// WithEligibilityTTL sets how long an eligibility answer is reused.
func WithEligibilityTTL(d time.Duration) Option {
	return func(s *Service) { s.eligible = gocache.New(d, eligibilityCleanup) }
}

// WithClock overrides the clock used to timestamp chat entries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service reading through reader and caching in c.
func New(reader account.Reader, c *cache.Cache[string], opts ...Option) *Service {
	s := &Service{
		reader:   reader,
		cache:    c,
		eligible: gocache.New(defaultEligibilityTTL, eligibilityCleanup),
		maxAge:   cache.DefaultMaxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the messages between owner and counterpart, oldest first.
func (s *Service) Load(ctx context.Context, owner, counterpart string) ([]string, error) {
	ok, err := s.checkEligible(ctx, counterpart)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("load chat with %s: %w", counterpart, ErrNotEligible)
	}

	if msgs, hit := s.cache.Get(ctx, owner, counterpart, s.maxAge); hit {
		slog.Debug("chat cache hit", "owner", owner, "counterpart", counterpart, "messages", len(msgs))
		return msgs, nil
	}

	msgs, err := s.reader.ReadChat(ctx, owner, counterpart)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", account.Classify("read_chat", err))
	}
	s.cache.Put(ctx, owner, counterpart, msgs)
	if msgs == nil {
		msgs = []string{}
	}
	return msgs, nil
}

// Conversation merges the owner's sent messages to counterpart with the loaded
// chat history into one newest-first timeline.
func (s *Service) Conversation(ctx context.Context, owner, counterpart string, ops []record.Operation) ([]record.Entry, error) {
	msgs, err := s.Load(ctx, owner, counterpart)
	if err != nil {
		return nil, err
	}
	return history.MergeChat(ops, msgs, counterpart, s.now()), nil
}

// Invalidate drops the cached conversation, e.g. after a new message was sent.
func (s *Service) Invalidate(ctx context.Context, owner, counterpart string) {
	s.cache.Purge(ctx, owner, counterpart)
}

func (s *Service) checkEligible(ctx context.Context, counterpart string) (bool, error) {
	key := strings.ToLower(counterpart)
	if v, found := s.eligible.Get(key); found {
		return v.(bool), nil
	}
	ok, err := s.reader.Eligible(ctx, counterpart)
	if err != nil {
		return false, account.Classify("eligible", err)
	}
	s.eligible.SetDefault(key, ok)
	return ok, nil
}
