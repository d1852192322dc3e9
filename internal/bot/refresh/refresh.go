// Package refresh manages bounded-duration auto-updating message views.
// Each displayed torrent detail message may own at most one job; the job
// re-renders the message on a fixed interval until a terminal condition
// is reached.
package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/transmote/transmote/internal/bot/views"
	"github.com/transmote/transmote/internal/torrents/types"
)

// Key identifies one displayed message.
type Key struct {
	ChatID    int64
	MessageID int
}

// Editor edits an already-sent message in place.
type Editor interface {
	EditMessage(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error
}

// IsNotModified reports whether err is Telegram rejecting an edit because
// the content is identical. That outcome is success as far as refreshing
// is concerned.
func IsNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

type job struct {
	key       Key
	torrentID int64
	elapsed   time.Duration
	stop      chan struct{}
}

// Scheduler owns the refresh jobs. All job-table mutations go through its
// mutex; tick bodies run on the job's own goroutine.
type Scheduler struct {
	client      types.Client
	editor      Editor
	logger      zerolog.Logger
	interval    time.Duration
	maxDuration time.Duration

	mu   sync.Mutex
	jobs map[Key]*job
}

// New creates a refresh scheduler. The editor is attached later via
// SetEditor because the message gateway is constructed after the scheduler.
func New(client types.Client, interval, maxDuration time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		client:      client,
		logger:      logger.With().Str("component", "refresh").Logger(),
		interval:    interval,
		maxDuration: maxDuration,
		jobs:        make(map[Key]*job),
	}
}

// SetEditor attaches the message editor. Must be called before Start.
func (s *Scheduler) SetEditor(editor Editor) {
	s.editor = editor
}

// MaxDurationSec returns the refresh window in whole seconds, for baking
// the initial countdown into a view.
func (s *Scheduler) MaxDurationSec() int {
	return int(s.maxDuration.Seconds())
}

// Start creates a refresh job for the given message. Any existing job at
// the same key is cancelled first, so one message never has two timers.
func (s *Scheduler) Start(key Key, torrentID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(key)

	j := &job{key: key, torrentID: torrentID, stop: make(chan struct{})}
	s.jobs[key] = j
	go s.run(j)
}

// Cancel stops the job for the given message, if any.
func (s *Scheduler) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(key)
}

// Shutdown cancels every job.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.jobs {
		s.cancelLocked(key)
	}
}

func (s *Scheduler) cancelLocked(key Key) {
	if j, ok := s.jobs[key]; ok {
		close(j.stop)
		delete(s.jobs, key)
	}
}

// detach removes j from the table if it is still the current job for its
// key. Called when a job reaches a terminal condition on its own.
func (s *Scheduler) detach(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[j.key] == j {
		delete(s.jobs, j.key)
	}
}

func (s *Scheduler) run(j *job) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			if done := s.tick(j); done {
				s.detach(j)
				return
			}
		}
	}
}

// tick advances the job by one interval and re-renders the message. It
// returns true when the job has reached a terminal condition. The final
// render still happens on the tick that crosses the duration bound or
// observes a non-active status; only a vanished torrent skips the edit.
func (s *Scheduler) tick(j *job) bool {
	j.elapsed += s.interval

	ctx, cancel := context.WithTimeout(context.Background(), s.interval*10)
	defer cancel()

	torrent, err := s.client.Get(ctx, j.torrentID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return true
		}
		s.logger.Warn().Err(err).Int64("torrentId", j.torrentID).Msg("Refresh poll failed")
		return false
	}

	done := j.elapsed >= s.maxDuration || !torrent.Status.Active()

	var remaining *int
	if !done {
		r := int((s.maxDuration - j.elapsed).Seconds())
		remaining = &r
	}

	text, markup := views.TorrentDetail(torrent, remaining)
	if err := s.editor.EditMessage(j.key.ChatID, j.key.MessageID, text, &markup); err != nil && !IsNotModified(err) {
		s.logger.Warn().Err(err).
			Int64("chatId", j.key.ChatID).
			Int("messageId", j.key.MessageID).
			Msg("Failed to update refreshed message")
	}

	return done
}
