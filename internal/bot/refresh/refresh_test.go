package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/transmote/transmote/internal/torrents/types"
)

// fakeClient serves a fixed torrent table.
type fakeClient struct {
	mu       sync.Mutex
	torrents map[int64]types.Torrent
}

func newFakeClient(torrents ...types.Torrent) *fakeClient {
	c := &fakeClient{torrents: make(map[int64]types.Torrent)}
	for _, t := range torrents {
		c.torrents[t.ID] = t
	}
	return c
}

func (c *fakeClient) Get(ctx context.Context, id int64) (*types.Torrent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.torrents[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &t, nil
}

func (c *fakeClient) Test(ctx context.Context) error                   { return nil }
func (c *fakeClient) List(ctx context.Context) ([]types.Torrent, error) { return nil, nil }
func (c *fakeClient) AddMagnet(ctx context.Context, m string) (*types.Torrent, error) {
	return nil, nil
}
func (c *fakeClient) AddURL(ctx context.Context, u string) (*types.Torrent, error) { return nil, nil }
func (c *fakeClient) AddFile(ctx context.Context, b []byte) (*types.Torrent, error) {
	return nil, nil
}
func (c *fakeClient) Start(ctx context.Context, id int64) error  { return nil }
func (c *fakeClient) Stop(ctx context.Context, id int64) error   { return nil }
func (c *fakeClient) Verify(ctx context.Context, id int64) error { return nil }
func (c *fakeClient) Remove(ctx context.Context, id int64, deleteData bool) error {
	return nil
}
func (c *fakeClient) SetFilesWanted(ctx context.Context, id int64, fileIDs []int64, wanted bool) error {
	return nil
}
func (c *fakeClient) DownloadDir(ctx context.Context) (string, error)          { return "", nil }
func (c *fakeClient) FreeSpace(ctx context.Context, p string) (int64, error)   { return 0, nil }

// recordingEditor captures edit calls.
type recordingEditor struct {
	mu    sync.Mutex
	edits []string
	err   error
}

func (e *recordingEditor) EditMessage(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edits = append(e.edits, text)
	return e.err
}

func (e *recordingEditor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.edits)
}

func newTestScheduler(client types.Client, editor Editor) *Scheduler {
	// Interval long enough that goroutine tickers never fire during a test;
	// ticks are driven directly.
	s := New(client, time.Second, 60*time.Second, zerolog.Nop())
	s.SetEditor(editor)
	return s
}

func TestStart_SupersedesExistingJob(t *testing.T) {
	client := newFakeClient(types.Torrent{ID: 1, Status: types.StatusDownloading})
	s := newTestScheduler(client, &recordingEditor{})
	key := Key{ChatID: 10, MessageID: 20}

	s.Start(key, 1)

	s.mu.Lock()
	first := s.jobs[key]
	s.mu.Unlock()

	s.Start(key, 1)

	s.mu.Lock()
	second := s.jobs[key]
	count := len(s.jobs)
	s.mu.Unlock()

	if count != 1 {
		t.Fatalf("job count = %d, want 1", count)
	}
	if first == second {
		t.Fatal("second Start did not replace the first job")
	}
	select {
	case <-first.stop:
	default:
		t.Error("first job was not cancelled")
	}

	s.Shutdown()
}

func TestCancel_RemovesJob(t *testing.T) {
	client := newFakeClient(types.Torrent{ID: 1, Status: types.StatusDownloading})
	s := newTestScheduler(client, &recordingEditor{})
	key := Key{ChatID: 1, MessageID: 2}

	s.Start(key, 1)
	s.Cancel(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) != 0 {
		t.Errorf("job count = %d, want 0", len(s.jobs))
	}
}

func TestTick_ActiveTorrentKeepsRunning(t *testing.T) {
	client := newFakeClient(types.Torrent{ID: 1, Name: "t", Status: types.StatusDownloading})
	editor := &recordingEditor{}
	s := newTestScheduler(client, editor)

	j := &job{key: Key{1, 2}, torrentID: 1, stop: make(chan struct{})}
	if done := s.tick(j); done {
		t.Error("tick reported done for an active torrent inside the window")
	}
	if editor.count() != 1 {
		t.Errorf("edits = %d, want 1", editor.count())
	}
	if j.elapsed != time.Second {
		t.Errorf("elapsed = %v, want 1s", j.elapsed)
	}
}

func TestTick_MaxDurationRendersFinalTickThenStops(t *testing.T) {
	client := newFakeClient(types.Torrent{ID: 1, Name: "t", Status: types.StatusDownloading})
	editor := &recordingEditor{}
	s := newTestScheduler(client, editor)

	j := &job{key: Key{1, 2}, torrentID: 1, stop: make(chan struct{})}
	j.elapsed = 59 * time.Second // next tick crosses the 60s bound

	if done := s.tick(j); !done {
		t.Error("tick should report done once max duration is reached")
	}
	if editor.count() != 1 {
		t.Errorf("final tick must still render; edits = %d, want 1", editor.count())
	}
}

func TestTick_InactiveStatusStopsAfterRender(t *testing.T) {
	client := newFakeClient(types.Torrent{ID: 1, Name: "t", Status: types.StatusStopped})
	editor := &recordingEditor{}
	s := newTestScheduler(client, editor)

	j := &job{key: Key{1, 2}, torrentID: 1, stop: make(chan struct{})}
	if done := s.tick(j); !done {
		t.Error("tick should report done for a non-active status")
	}
	if editor.count() != 1 {
		t.Errorf("edits = %d, want 1", editor.count())
	}
}

func TestTick_VanishedTorrentStopsWithoutEditing(t *testing.T) {
	client := newFakeClient() // empty
	editor := &recordingEditor{}
	s := newTestScheduler(client, editor)

	j := &job{key: Key{1, 2}, torrentID: 99, stop: make(chan struct{})}
	if done := s.tick(j); !done {
		t.Error("tick should report done for a vanished torrent")
	}
	if editor.count() != 0 {
		t.Errorf("no edit expected for a vanished torrent, got %d", editor.count())
	}
}

func TestTick_EditFailureIsSwallowed(t *testing.T) {
	client := newFakeClient(types.Torrent{ID: 1, Name: "t", Status: types.StatusDownloading})
	editor := &recordingEditor{err: errors.New("Bad Request: message to edit not found")}
	s := newTestScheduler(client, editor)

	j := &job{key: Key{1, 2}, torrentID: 1, stop: make(chan struct{})}
	if done := s.tick(j); done {
		t.Error("edit failure must not terminate the job")
	}
}

func TestIsNotModified(t *testing.T) {
	err := errors.New("Bad Request: message is not modified: specified new message content is the same")
	if !IsNotModified(err) {
		t.Error("expected not-modified error to be recognized")
	}
	if IsNotModified(errors.New("Bad Request: chat not found")) {
		t.Error("unrelated error misclassified as not-modified")
	}
	if IsNotModified(nil) {
		t.Error("nil error misclassified")
	}
}
