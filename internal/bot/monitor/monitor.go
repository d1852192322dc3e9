// Package monitor watches the daemon for torrents crossing into the
// fully-complete state and notifies whoever added them. Detection is
// edge-triggered: a notification fires on the transition into complete,
// never while sitting in it.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/transmote/transmote/internal/torrents/types"
)

// Notifier delivers a completion notification to a specific user.
type Notifier interface {
	NotifyCompleted(userID int64, torrentName string) error
}

// torrentState is the last recorded observation of one torrent.
type torrentState struct {
	status   types.Status
	progress float64 // rounded to one decimal
}

// Monitor polls the daemon and diffs against the last poll. It also owns
// the ownership map used to target notifications.
type Monitor struct {
	client   types.Client
	notifier Notifier
	logger   zerolog.Logger

	mu          sync.Mutex
	initialized bool
	torrents    map[int64]torrentState
	owners      map[int64]int64
}

// New creates a completion monitor. Attach a notifier with SetNotifier
// before the first tick that should deliver anything.
func New(client types.Client, logger zerolog.Logger) *Monitor {
	return &Monitor{
		client:   client,
		logger:   logger.With().Str("component", "monitor").Logger(),
		torrents: make(map[int64]torrentState),
		owners:   make(map[int64]int64),
	}
}

// SetNotifier attaches the notification sink.
func (m *Monitor) SetNotifier(n Notifier) {
	m.notifier = n
}

// SetOwner records who added a torrent. Completion notifications go only
// to recorded owners.
func (m *Monitor) SetOwner(torrentID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[torrentID] = userID
}

// RemoveOwner drops the ownership record, e.g. after a deliberate delete.
func (m *Monitor) RemoveOwner(torrentID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, torrentID)
}

type notification struct {
	userID int64
	name   string
}

// Tick performs one monitoring pass. A failed daemon poll leaves all state
// untouched; the next tick retries. The first successful pass only seeds
// the baseline and never notifies, even for torrents already complete.
func (m *Monitor) Tick(ctx context.Context) error {
	torrents, err := m.client.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list torrents for monitoring: %w", err)
	}

	pending := m.diff(torrents)

	for _, n := range pending {
		if err := m.notifier.NotifyCompleted(n.userID, n.name); err != nil {
			m.logger.Warn().Err(err).
				Int64("userId", n.userID).
				Str("torrent", n.name).
				Msg("Failed to send completion notification")
		}
	}

	return nil
}

// diff updates the recorded state from the current snapshot and returns
// the notifications to deliver. Split from Tick so the state transition
// logic holds the mutex while delivery does not.
func (m *Monitor) diff(torrents []types.Torrent) []notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		for _, t := range torrents {
			m.torrents[t.ID] = torrentState{status: t.Status, progress: round1(t.Progress)}
		}
		m.initialized = true
		m.logger.Info().Int("count", len(torrents)).Msg("Initialized torrent monitor")
		return nil
	}

	var pending []notification

	seen := make(map[int64]struct{}, len(torrents))
	for _, t := range torrents {
		seen[t.ID] = struct{}{}

		current := torrentState{status: t.Status, progress: round1(t.Progress)}
		previous, known := m.torrents[t.ID]

		if isComplete(current) && (!known || previous.progress < 100.0) {
			if owner, ok := m.owners[t.ID]; ok && m.notifier != nil {
				pending = append(pending, notification{userID: owner, name: t.Name})
			}
		}

		m.torrents[t.ID] = current
	}

	// GC entries for torrents the daemon no longer reports.
	for id := range m.torrents {
		if _, ok := seen[id]; !ok {
			delete(m.torrents, id)
			delete(m.owners, id)
		}
	}

	return pending
}

// isComplete matches the original detection rule: progress rounds to
// exactly 100.0 at one decimal and the daemon has moved past downloading.
func isComplete(s torrentState) bool {
	return s.progress == 100.0 && (s.status == types.StatusSeeding || s.status == types.StatusStopped)
}

// round1 rounds to one decimal place. The precision is load-bearing:
// comparing raw floats against 100.0 would miss or duplicate transitions.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
