package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/transmote/transmote/internal/bot/monitor"
	"github.com/transmote/transmote/internal/bot/refresh"
	"github.com/transmote/transmote/internal/bot/views"
	"github.com/transmote/transmote/internal/torrents/types"
)

// fakeAPI records every outgoing Telegram request.
type fakeAPI struct {
	sent     []tgbotapi.MessageConfig
	edits    []tgbotapi.EditMessageTextConfig
	answers  []tgbotapi.CallbackConfig
	deletes  []tgbotapi.DeleteMessageConfig
	editErr  error
	fileURLs map[string]string
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	switch v := c.(type) {
	case tgbotapi.EditMessageTextConfig:
		f.edits = append(f.edits, v)
		if f.editErr != nil {
			return nil, f.editErr
		}
	case tgbotapi.CallbackConfig:
		f.answers = append(f.answers, v)
	case tgbotapi.DeleteMessageConfig:
		f.deletes = append(f.deletes, v)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	if url, ok := f.fileURLs[fileID]; ok {
		return url, nil
	}
	return "", errors.New("unknown file")
}

// fakeClient serves a mutable torrent table.
type fakeClient struct {
	torrents map[int64]types.Torrent
	started  []int64
	removed  []int64
	listErr  error
}

func newFakeClient(torrents ...types.Torrent) *fakeClient {
	c := &fakeClient{torrents: make(map[int64]types.Torrent)}
	for _, t := range torrents {
		c.torrents[t.ID] = t
	}
	return c
}

func (c *fakeClient) Test(ctx context.Context) error { return nil }

func (c *fakeClient) List(ctx context.Context) ([]types.Torrent, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	var out []types.Torrent
	for _, t := range c.torrents {
		out = append(out, t)
	}
	return out, nil
}

func (c *fakeClient) Get(ctx context.Context, id int64) (*types.Torrent, error) {
	t, ok := c.torrents[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &t, nil
}

func (c *fakeClient) AddMagnet(ctx context.Context, m string) (*types.Torrent, error) {
	t := types.Torrent{ID: int64(len(c.torrents) + 1), Name: "added", Status: types.StatusStopped}
	c.torrents[t.ID] = t
	return &t, nil
}

func (c *fakeClient) AddURL(ctx context.Context, u string) (*types.Torrent, error) {
	return c.AddMagnet(ctx, u)
}

func (c *fakeClient) AddFile(ctx context.Context, b []byte) (*types.Torrent, error) {
	return c.AddMagnet(ctx, "")
}

func (c *fakeClient) Start(ctx context.Context, id int64) error {
	c.started = append(c.started, id)
	return nil
}

func (c *fakeClient) Stop(ctx context.Context, id int64) error   { return nil }
func (c *fakeClient) Verify(ctx context.Context, id int64) error { return nil }

func (c *fakeClient) Remove(ctx context.Context, id int64, deleteData bool) error {
	c.removed = append(c.removed, id)
	delete(c.torrents, id)
	return nil
}

func (c *fakeClient) SetFilesWanted(ctx context.Context, id int64, fileIDs []int64, wanted bool) error {
	return nil
}

func (c *fakeClient) DownloadDir(ctx context.Context) (string, error) { return "/downloads", nil }
func (c *fakeClient) FreeSpace(ctx context.Context, p string) (int64, error) {
	return 1 << 30, nil
}

func newTestBot(client types.Client, api *fakeAPI) (*Bot, *monitor.Monitor) {
	rs := refresh.New(client, time.Hour, 60*time.Second, zerolog.Nop())
	mon := monitor.New(client, zerolog.Nop())

	b := &Bot{
		api:     api,
		client:  client,
		refresh: rs,
		monitor: mon,
		logger:  zerolog.Nop(),
		allowed: map[int64]struct{}{100: {}},
	}
	rs.SetEditor(b)
	mon.SetNotifier(b)
	return b, mon
}

func message(userID, chatID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := text
		if i := strings.IndexByte(text, ' '); i >= 0 {
			cmd = text[:i]
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func callback(userID, chatID int64, messageID int, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: userID},
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: chatID},
		},
	}}
}

func TestHandleUpdate_DropsUserOutsideWhitelist(t *testing.T) {
	api := &fakeAPI{}
	b, _ := newTestBot(newFakeClient(), api)

	b.handleUpdate(context.Background(), tgbotapi.Update{Message: message(999, 999, "/torrents")})

	if len(api.sent)+len(api.edits)+len(api.answers) != 0 {
		t.Error("update from unlisted user must be dropped without any reply")
	}
}

func TestHandleCommand_TorrentsSendsList(t *testing.T) {
	api := &fakeAPI{}
	b, _ := newTestBot(newFakeClient(types.Torrent{ID: 1, Name: "iso", Status: types.StatusDownloading}), api)

	b.handleUpdate(context.Background(), tgbotapi.Update{Message: message(100, 100, "/torrents")})

	if len(api.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(api.sent))
	}
	if !strings.Contains(api.sent[0].Text, "Torrents 1") {
		t.Errorf("list text = %q", api.sent[0].Text)
	}
	if api.sent[0].ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("parse mode = %q", api.sent[0].ParseMode)
	}
}

func TestHandleCommand_TorrentsEmptyListIsPlain(t *testing.T) {
	api := &fakeAPI{}
	b, _ := newTestBot(newFakeClient(), api)

	b.handleUpdate(context.Background(), tgbotapi.Update{Message: message(100, 100, "/torrents")})

	if len(api.sent) != 1 || api.sent[0].Text != views.EmptyListText {
		t.Fatalf("sent = %+v", api.sent)
	}
	if api.sent[0].ParseMode != "" {
		t.Errorf("empty list must be sent without a parse mode")
	}
}

func TestHandleText_MagnetAddsAndRecordsOwner(t *testing.T) {
	api := &fakeAPI{}
	client := newFakeClient()
	b, _ := newTestBot(client, api)

	b.handleUpdate(context.Background(), tgbotapi.Update{
		Message: message(100, 100, "look: magnet:?xt=urn:btih:deadbeef&dn=x"),
	})

	if len(client.torrents) != 1 {
		t.Fatalf("torrents added = %d, want 1", len(client.torrents))
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent = %d, want 1 confirmation menu", len(api.sent))
	}
	if !strings.Contains(api.sent[0].Text, "Start downloading") {
		t.Errorf("confirmation text = %q", api.sent[0].Text)
	}
}

func TestHandleText_PlainTextGetsMenu(t *testing.T) {
	api := &fakeAPI{}
	b, _ := newTestBot(newFakeClient(), api)

	b.handleUpdate(context.Background(), tgbotapi.Update{Message: message(100, 100, "hello")})

	if len(api.sent) != 1 || !strings.Contains(api.sent[0].Text, "/torrents") {
		t.Fatalf("expected main menu reply, got %+v", api.sent)
	}
}

func TestCallback_MalformedTokenIsAcked(t *testing.T) {
	api := &fakeAPI{}
	b, _ := newTestBot(newFakeClient(), api)

	b.handleUpdate(context.Background(), callback(100, 100, 5, "torrent"))

	if len(api.edits) != 0 {
		t.Error("malformed token must not edit anything")
	}
	if len(api.answers) != 1 || api.answers[0].Text != "" {
		t.Fatalf("answers = %+v, want one empty ack", api.answers)
	}
}

func TestCallback_StartArmsRefreshJob(t *testing.T) {
	api := &fakeAPI{}
	client := newFakeClient(types.Torrent{ID: 7, Name: "iso", Status: types.StatusStopped})
	b, _ := newTestBot(client, api)
	defer b.refresh.Shutdown()

	b.handleUpdate(context.Background(), callback(100, 100, 5, "torrent_7_start"))

	if len(client.started) != 1 || client.started[0] != 7 {
		t.Fatalf("started = %v, want [7]", client.started)
	}
	if len(api.edits) != 1 {
		t.Fatalf("edits = %d, want 1 detail render", len(api.edits))
	}
	if !strings.Contains(api.edits[0].Text, "60s left") {
		t.Errorf("detail text should carry the full countdown; got %q", api.edits[0].Text)
	}
	if len(api.answers) != 1 || api.answers[0].Text != "Started" {
		t.Fatalf("answers = %+v, want Started toast", api.answers)
	}
}

func TestCallback_StopAnswersStopped(t *testing.T) {
	api := &fakeAPI{}
	client := newFakeClient(types.Torrent{ID: 7, Name: "iso", Status: types.StatusDownloading})
	b, _ := newTestBot(client, api)

	b.handleUpdate(context.Background(), callback(100, 100, 5, "torrent_7_stop"))

	if len(api.answers) != 1 || api.answers[0].Text != "Stopped" {
		t.Fatalf("answers = %+v, want Stopped toast", api.answers)
	}
}

func TestCallback_UnexpectedEditFailureSurfacesError(t *testing.T) {
	api := &fakeAPI{editErr: errors.New("Bad Request: can't parse entities")}
	client := newFakeClient(types.Torrent{ID: 1, Name: "iso", Status: types.StatusStopped})
	b, _ := newTestBot(client, api)

	b.handleUpdate(context.Background(), callback(100, 100, 5, "torrent_1"))

	if len(api.sent) != 1 || api.sent[0].Text != "Something went wrong" {
		t.Fatalf("sent = %+v, want the error reply", api.sent)
	}
}

func TestCallback_ReloadAnswersNothingToReload(t *testing.T) {
	api := &fakeAPI{editErr: errors.New("Bad Request: message is not modified")}
	client := newFakeClient(types.Torrent{ID: 7, Name: "iso", Status: types.StatusStopped})
	b, _ := newTestBot(client, api)

	b.handleUpdate(context.Background(), callback(100, 100, 5, "torrent_7_reload"))

	if len(api.answers) != 1 || api.answers[0].Text != "Nothing to reload" {
		t.Fatalf("answers = %+v", api.answers)
	}
}

func TestCallback_DeleteRemovesAndShowsList(t *testing.T) {
	api := &fakeAPI{}
	client := newFakeClient(
		types.Torrent{ID: 7, Name: "iso", Status: types.StatusStopped},
		types.Torrent{ID: 8, Name: "other", Status: types.StatusSeeding},
	)
	b, mon := newTestBot(client, api)
	mon.SetOwner(7, 100)

	b.handleUpdate(context.Background(), callback(100, 100, 5, "deletetorrent_7_data"))

	if len(client.removed) != 1 || client.removed[0] != 7 {
		t.Fatalf("removed = %v, want [7]", client.removed)
	}
	if len(api.answers) != 1 || api.answers[0].Text != "Deleted" {
		t.Fatalf("answers = %+v", api.answers)
	}
	if len(api.edits) != 1 || !strings.Contains(api.edits[0].Text, "Torrents 1") {
		t.Fatalf("expected list render after delete, got %+v", api.edits)
	}
}

func TestCallback_DeleteLastTorrentDeletesMessage(t *testing.T) {
	api := &fakeAPI{}
	client := newFakeClient(types.Torrent{ID: 7, Name: "iso", Status: types.StatusStopped})
	b, _ := newTestBot(client, api)

	b.handleUpdate(context.Background(), callback(100, 100, 5, "deletetorrent_7"))

	if len(api.deletes) != 1 {
		t.Fatalf("deletes = %d, want 1", len(api.deletes))
	}
	if len(api.sent) != 1 || api.sent[0].Text != views.EmptyListText {
		t.Fatalf("sent = %+v", api.sent)
	}
}

func TestCallback_VanishedTorrentRedirectsToList(t *testing.T) {
	api := &fakeAPI{}
	client := newFakeClient(types.Torrent{ID: 8, Name: "other", Status: types.StatusSeeding})
	b, _ := newTestBot(client, api)

	b.handleUpdate(context.Background(), callback(100, 100, 5, "torrent_7"))

	if len(api.answers) != 1 || api.answers[0].Text != "Torrent no longer exists" {
		t.Fatalf("answers = %+v", api.answers)
	}
	if len(api.edits) != 1 || !strings.Contains(api.edits[0].Text, "Torrents 1") {
		t.Fatalf("expected redirect to list, got %+v", api.edits)
	}
}

func TestCallback_AddCancelRemovesWithData(t *testing.T) {
	api := &fakeAPI{}
	client := newFakeClient(types.Torrent{ID: 7, Name: "iso", Status: types.StatusStopped})
	b, _ := newTestBot(client, api)

	b.handleUpdate(context.Background(), callback(100, 100, 5, "torrentadd_7_cancel"))

	if len(client.removed) != 1 {
		t.Fatalf("removed = %v, want [7]", client.removed)
	}
	if len(api.answers) != 1 || api.answers[0].Text != "Canceled" {
		t.Fatalf("answers = %+v", api.answers)
	}
	if len(api.edits) != 1 || api.edits[0].Text != "Torrent deleted" {
		t.Fatalf("edits = %+v", api.edits)
	}
}

func TestErrText(t *testing.T) {
	daemonErr := &types.DaemonError{Message: "invalid or corrupt torrent file"}
	if got := errText(daemonErr); got != "invalid or corrupt torrent file" {
		t.Errorf("errText(daemon) = %q", got)
	}
	if got := errText(types.ErrAuthFailed); got != "daemon authentication failed" {
		t.Errorf("errText(auth) = %q", got)
	}
	if got := errText(errors.New("dial tcp: refused")); got != "daemon is unreachable" {
		t.Errorf("errText(other) = %q", got)
	}
}
