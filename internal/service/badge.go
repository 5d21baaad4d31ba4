package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/metrics"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Badges are the two global counters shown by the UI
type Badges struct {
	LikesYou       int   `json:"likesYou"`
	UnreadMessages int   `json:"unreadMessages"`
	UpdatedAt      int64 `json:"updatedAt"`
}

// ConversationLister returns the current conversation list, refreshing
// the cache as a side effect
type ConversationLister interface {
	SyncConversationList(ctx context.Context) ([]*models.Conversation, error)
}

// MatchFetcher returns the signed in user's matches
type MatchFetcher interface {
	GetMatches(ctx context.Context) ([]*models.Match, error)
}

// BadgeAggregator recomputes the badge counters on a timer, on app focus
// and whenever Trigger is called. A counter whose source failed keeps its
// previous value.
type BadgeAggregator struct {
	conversations ConversationLister
	matches       MatchFetcher
	interval      time.Duration
	fetchTimeout  time.Duration
	metrics       *metrics.Registry
	logger        *logrus.Logger

	mu          sync.RWMutex
	badges      Badges
	subscribers map[int]chan Badges
	nextSub     int

	refreshMu sync.Mutex
	trigger   chan struct{}

	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewBadgeAggregator creates an aggregator. Zero config values use defaults.
func NewBadgeAggregator(conversations ConversationLister, matches MatchFetcher, cfg models.BadgeConfig, registry *metrics.Registry, logger *logrus.Logger) *BadgeAggregator {
	interval := cfg.RefreshIntervalSec
	if interval <= 0 {
		interval = constants.DefaultBadgeRefreshIntervalSec
	}
	timeout := cfg.FetchTimeoutSec
	if timeout <= 0 {
		timeout = constants.DefaultBadgeFetchTimeoutSec
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &BadgeAggregator{
		conversations: conversations,
		matches:       matches,
		interval:      time.Duration(interval) * time.Second,
		fetchTimeout:  time.Duration(timeout) * time.Second,
		metrics:       registry,
		logger:        logger,
		subscribers:   make(map[int]chan Badges),
		trigger:       make(chan struct{}, 1),
	}
}

// Start refreshes once and then runs the refresh loop until Stop or ctx ends
func (b *BadgeAggregator) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.running {
		return fmt.Errorf("badge aggregator is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.loop(loopCtx)

	b.logger.WithField("interval_sec", b.interval.Seconds()).Info("Badge aggregator started")
	return nil
}

// Stop ends the refresh loop and waits for it
func (b *BadgeAggregator) Stop() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if !b.running {
		return
	}
	b.cancel()
	b.wg.Wait()
	b.running = false
	b.logger.Info("Badge aggregator stopped")
}

// Trigger requests a refresh. Requests made while one is pending coalesce.
func (b *BadgeAggregator) Trigger() {
	select {
	case b.trigger <- struct{}{}:
	default:
	}
}

// OnFocus is called when the app returns to the foreground
func (b *BadgeAggregator) OnFocus() {
	b.Trigger()
}

// Current returns the last computed counters
func (b *BadgeAggregator) Current() Badges {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.badges
}

// Reset zeroes the counters, on logout
func (b *BadgeAggregator) Reset() {
	b.mu.Lock()
	b.badges = Badges{UpdatedAt: models.NowMillis()}
	snapshot := b.badges
	b.mu.Unlock()

	b.publish(snapshot)
	b.recordGauges(snapshot)
}

// Subscribe returns a channel that receives the counters after each
// change, and a function that ends the subscription. Slow subscribers only
// see the latest value.
func (b *BadgeAggregator) Subscribe() (<-chan Badges, func()) {
	ch := make(chan Badges, 1)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Refresh fetches both sources and updates the counters that succeeded
func (b *BadgeAggregator) Refresh(ctx context.Context) Badges {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	var (
		likes, unread       int
		likesErr, unreadErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		likes, likesErr = b.countLikes(ctx)
		return nil
	})
	g.Go(func() error {
		unread, unreadErr = b.countUnread(ctx)
		return nil
	})
	_ = g.Wait()

	b.mu.Lock()
	previous := b.badges
	if likesErr == nil {
		b.badges.LikesYou = likes
	}
	if unreadErr == nil {
		b.badges.UnreadMessages = unread
	}
	if likesErr == nil || unreadErr == nil {
		b.badges.UpdatedAt = models.NowMillis()
	}
	current := b.badges
	b.mu.Unlock()

	b.metrics.IncrementCounter(metrics.BadgeRefreshes, nil, "Badge refreshes")
	if likesErr != nil {
		b.metrics.IncrementCounter(metrics.BadgeRefreshFailures, map[string]string{"source": "matches"}, "Badge source failures")
		b.logger.WithError(likesErr).Warn("Failed to refresh likes badge, keeping previous value")
	}
	if unreadErr != nil {
		b.metrics.IncrementCounter(metrics.BadgeRefreshFailures, map[string]string{"source": "conversations"}, "Badge source failures")
		b.logger.WithError(unreadErr).Warn("Failed to refresh unread badge, keeping previous value")
	}

	b.recordGauges(current)
	if current.LikesYou != previous.LikesYou || current.UnreadMessages != previous.UnreadMessages {
		b.publish(current)
	}
	return current
}

func (b *BadgeAggregator) countLikes(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.fetchTimeout)
	defer cancel()

	matches, err := b.matches.GetMatches(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, match := range matches {
		if match.LikesYou() {
			count++
		}
	}
	return count, nil
}

func (b *BadgeAggregator) countUnread(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.fetchTimeout)
	defer cancel()

	convs, err := b.conversations.SyncConversationList(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, conv := range convs {
		if conv.UnreadCount > 0 {
			total += conv.UnreadCount
		}
	}
	return total, nil
}

func (b *BadgeAggregator) loop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Refresh(ctx)
		case <-b.trigger:
			b.Refresh(ctx)
		}
	}
}

func (b *BadgeAggregator) publish(badges Badges) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- badges:
		default:
		}
	}
}

func (b *BadgeAggregator) recordGauges(badges Badges) {
	b.metrics.SetGauge(metrics.BadgeLikesYou, float64(badges.LikesYou), nil, "Pending likes badge")
	b.metrics.SetGauge(metrics.BadgeUnreadMessages, float64(badges.UnreadMessages), nil, "Unread messages badge")
}
