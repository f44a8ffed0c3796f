package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

type SyncState string

const (
	StateDisconnected SyncState = "disconnected"
	StateConnecting   SyncState = "connecting"
	StateSyncing      SyncState = "syncing"
	StateSynced       SyncState = "synced"
	StateError        SyncState = "error"
)

const (
	DefaultRefreshInterval = 2 * time.Second
	DefaultRefreshTimeout  = 20 * time.Second
)

// RefreshFunc reloads the local read model and reports whether the expected
// data is present.
type RefreshFunc func(ctx context.Context) (bool, error)

// StatusBridge mirrors the sync state and notifies subscribers on change.
// Reaching synced starts a bounded refresh poll, since a fast-forward can
// advance local state without any change notification.
type StatusBridge struct {
	refresh  RefreshFunc
	interval time.Duration
	timeout  time.Duration

	mu          sync.Mutex
	state       SyncState
	subscribers map[int]func(SyncState)
	nextID      int
	stopPoll    context.CancelFunc
	wg          sync.WaitGroup
}

func NewStatusBridge(refresh RefreshFunc) *StatusBridge {
	return &StatusBridge{
		refresh:     refresh,
		interval:    DefaultRefreshInterval,
		timeout:     DefaultRefreshTimeout,
		state:       StateDisconnected,
		subscribers: map[int]func(SyncState){},
	}
}

// WithPolling overrides the refresh poll interval and timeout.
func (s *StatusBridge) WithPolling(interval, timeout time.Duration) *StatusBridge {
	s.interval = interval
	s.timeout = timeout
	return s
}

func (s *StatusBridge) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for state changes and returns its cancel function.
func (s *StatusBridge) Subscribe(fn func(SyncState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Update records a new state. Repeating the current state is a no-op.
func (s *StatusBridge) Update(state SyncState) {
	s.mu.Lock()
	if state == s.state {
		s.mu.Unlock()
		return
	}
	s.state = state

	subscribers := make([]func(SyncState), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
	if state == StateSynced && s.refresh != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		s.stopPoll = cancel
		s.wg.Add(1)
		go s.poll(ctx, cancel)
	}
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(state)
	}
}

func (s *StatusBridge) poll(ctx context.Context, cancel context.CancelFunc) {
	defer s.wg.Done()
	defer cancel()

	err := wait.PollUntil(s.interval, func() (bool, error) {
		done, err := s.refresh(ctx)
		if err != nil {
			logrus.Debugf("read model refresh failed: %v", err)
			return false, nil
		}
		return done, nil
	}, ctx.Done())
	if err != nil {
		logrus.Debugf("stopped refreshing read model after sync: %v", err)
	}
}

// Close stops any running refresh poll and waits for it.
func (s *StatusBridge) Close() {
	s.mu.Lock()
	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
