package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/transmote/transmote/internal/bot/action"
	"github.com/transmote/transmote/internal/bot/refresh"
	"github.com/transmote/transmote/internal/bot/views"
	"github.com/transmote/transmote/internal/torrents/types"
)

var (
	magnetRe     = regexp.MustCompile(`magnet:\?xt=urn:btih:[^\s]+`)
	torrentURLRe = regexp.MustCompile(`(?i)https?://[^\s]+\.torrent\b`)
)

// maxTorrentFileSize bounds forwarded .torrent downloads.
const maxTorrentFileSize = 10 << 20

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if msg.Document != nil {
		b.handleDocument(ctx, msg)
		return
	}
	if msg.Text != "" {
		b.handleText(ctx, msg)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "menu", "help":
		b.sendPlain(msg.Chat.ID, views.MainMenu())
	case "add":
		b.sendPlain(msg.Chat.ID, views.AddInstructions())
	case "torrents":
		torrents, err := b.client.List(ctx)
		if err != nil {
			b.logger.Error().Err(err).Msg("Failed to list torrents")
			b.sendPlain(msg.Chat.ID, "Error: "+errText(err))
			return
		}
		text, markup := views.TorrentList(torrents, 0)
		if text == views.EmptyListText {
			b.sendPlain(msg.Chat.ID, text)
			return
		}
		b.sendMarkdown(msg.Chat.ID, text, &markup)
	case "memory":
		dir, err := b.client.DownloadDir(ctx)
		if err != nil {
			b.sendPlain(msg.Chat.ID, "Error: "+errText(err))
			return
		}
		free, err := b.client.FreeSpace(ctx, dir)
		if err != nil {
			b.sendPlain(msg.Chat.ID, "Error: "+errText(err))
			return
		}
		b.sendPlain(msg.Chat.ID, views.FreeSpace(free))
	default:
		b.sendPlain(msg.Chat.ID, views.MainMenu())
	}
}

// handleText scans free-form text for torrent links. Magnet links take
// precedence: a message containing any magnet is handled as magnets only.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	if magnets := magnetRe.FindAllString(msg.Text, -1); len(magnets) > 0 {
		for _, magnet := range magnets {
			b.addTorrent(ctx, msg, func(ctx context.Context) (*types.Torrent, error) {
				return b.client.AddMagnet(ctx, magnet)
			})
		}
		return
	}
	if urls := torrentURLRe.FindAllString(msg.Text, -1); len(urls) > 0 {
		for _, url := range urls {
			b.addTorrent(ctx, msg, func(ctx context.Context) (*types.Torrent, error) {
				return b.client.AddURL(ctx, url)
			})
		}
		return
	}
	b.sendPlain(msg.Chat.ID, views.MainMenu())
}

func (b *Bot) handleDocument(ctx context.Context, msg *tgbotapi.Message) {
	doc := msg.Document
	if !strings.HasSuffix(strings.ToLower(doc.FileName), ".torrent") &&
		doc.MimeType != "application/x-bittorrent" {
		b.sendPlain(msg.Chat.ID, views.AddInstructions())
		return
	}

	metainfo, err := b.fetchDocument(ctx, doc.FileID)
	if err != nil {
		b.logger.Warn().Err(err).Str("file", doc.FileName).Msg("Failed to fetch torrent file")
		b.sendPlain(msg.Chat.ID, "Failed to add torrent: could not download the file")
		return
	}

	b.addTorrent(ctx, msg, func(ctx context.Context) (*types.Torrent, error) {
		return b.client.AddFile(ctx, metainfo)
	})
}

func (b *Bot) fetchDocument(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching file", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxTorrentFileSize))
}

// addTorrent runs one add operation and replies with the confirmation
// menu. Failures are reported per torrent so one bad link in a message
// does not block the rest.
func (b *Bot) addTorrent(ctx context.Context, msg *tgbotapi.Message, add func(context.Context) (*types.Torrent, error)) {
	torrent, err := add(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to add torrent")
		b.sendPlain(msg.Chat.ID, "Failed to add torrent: "+errText(err))
		return
	}

	if b.monitor != nil {
		b.monitor.SetOwner(torrent.ID, msg.From.ID)
	}
	b.logger.Info().
		Int64("torrentId", torrent.ID).
		Str("name", torrent.Name).
		Int64("userId", msg.From.ID).
		Msg("Torrent added")

	text, markup := views.AddMenu(torrent)
	b.sendMarkdown(msg.Chat.ID, text, &markup)
}

// handleCallback routes one button press. The refresh job for the pressed
// message is always cancelled before anything else happens, so a stale
// timer can never race the new content. A returned error is a render
// failure the caller surfaces to the user; expected daemon failures are
// answered in place and return nil.
func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) error {
	if cq.Message == nil {
		b.answer(cq.ID, "")
		return nil
	}

	a, err := action.Decode(cq.Data)
	if err != nil {
		b.logger.Warn().Str("data", cq.Data).Msg("Ignoring malformed callback token")
		b.answer(cq.ID, "")
		return nil
	}

	key := refresh.Key{ChatID: cq.Message.Chat.ID, MessageID: cq.Message.MessageID}
	b.refresh.Cancel(key)

	switch a.Kind {
	case action.KindListGoto:
		return b.callbackList(ctx, cq, key, a)
	case action.KindTorrent:
		return b.callbackTorrent(ctx, cq, key, a)
	case action.KindFiles:
		return b.callbackFiles(ctx, cq, key, a)
	case action.KindFileEdit:
		return b.callbackFileEdit(ctx, cq, key, a)
	case action.KindDeleteMenu:
		return b.callbackDeleteMenu(ctx, cq, key, a)
	case action.KindDelete:
		return b.callbackDelete(ctx, cq, key, a)
	case action.KindAddMenu, action.KindSelectFiles, action.KindFileSelect, action.KindAddAction:
		return b.callbackAdd(ctx, cq, key, a)
	default:
		b.answer(cq.ID, "")
		return nil
	}
}

func (b *Bot) callbackList(ctx context.Context, cq *tgbotapi.CallbackQuery, key refresh.Key, a action.Action) error {
	torrents, err := b.client.List(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to list torrents")
		b.answer(cq.ID, "Error: "+errText(err))
		return nil
	}

	text, markup := views.TorrentList(torrents, a.Offset)
	if text == views.EmptyListText {
		b.deleteMessage(key)
		b.sendPlain(key.ChatID, text)
		b.answer(cq.ID, "")
		return nil
	}

	editErr := b.EditMessage(key.ChatID, key.MessageID, text, &markup)
	if editErr != nil && !refresh.IsNotModified(editErr) {
		return editErr
	}
	b.answer(cq.ID, b.ackText(a.Reload, editErr))
	return nil
}

func (b *Bot) callbackTorrent(ctx context.Context, cq *tgbotapi.CallbackQuery, key refresh.Key, a action.Action) error {
	var opErr error
	ack := ""
	switch a.Verb {
	case action.VerbStart:
		opErr = b.client.Start(ctx, a.TorrentID)
		ack = "Started"
	case action.VerbStop:
		opErr = b.client.Stop(ctx, a.TorrentID)
		ack = "Stopped"
	case action.VerbVerify:
		opErr = b.client.Verify(ctx, a.TorrentID)
		ack = "Verifying"
	}
	if opErr != nil {
		if handled, err := b.redirectIfGone(ctx, cq, key, opErr); handled {
			return err
		}
		b.logger.Error().Err(opErr).Int64("torrentId", a.TorrentID).Str("verb", string(a.Verb)).Msg("Torrent operation failed")
		b.answer(cq.ID, "Error: "+errText(opErr))
		return nil
	}

	torrent, err := b.client.Get(ctx, a.TorrentID)
	if err != nil {
		if handled, rerr := b.redirectIfGone(ctx, cq, key, err); handled {
			return rerr
		}
		b.answer(cq.ID, "Error: "+errText(err))
		return nil
	}

	// A start or verify may not be visible in the snapshot yet, so those
	// verbs force the refresh window open regardless of reported status.
	autoRefresh := torrent.Status.Active() || a.Verb == action.VerbStart || a.Verb == action.VerbVerify
	editErr := b.showDetail(key, torrent, autoRefresh)
	if editErr != nil && !refresh.IsNotModified(editErr) {
		return editErr
	}
	if a.Verb == action.VerbReload {
		ack = b.ackText(true, editErr)
	}
	b.answer(cq.ID, ack)
	return nil
}

func (b *Bot) callbackFiles(ctx context.Context, cq *tgbotapi.CallbackQuery, key refresh.Key, a action.Action) error {
	torrent, err := b.client.Get(ctx, a.TorrentID)
	if err != nil {
		if handled, rerr := b.redirectIfGone(ctx, cq, key, err); handled {
			return rerr
		}
		b.answer(cq.ID, "Error: "+errText(err))
		return nil
	}

	text, markup := views.Files(torrent)
	editErr := b.EditMessage(key.ChatID, key.MessageID, text, &markup)
	if editErr != nil && !refresh.IsNotModified(editErr) {
		return editErr
	}
	b.answer(cq.ID, b.ackText(a.Reload, editErr))
	return nil
}

func (b *Bot) callbackFileEdit(ctx context.Context, cq *tgbotapi.CallbackQuery, key refresh.Key, a action.Action) error {
	if err := b.client.SetFilesWanted(ctx, a.TorrentID, []int64{a.FileID}, a.Wanted); err != nil {
		if handled, rerr := b.redirectIfGone(ctx, cq, key, err); handled {
			return rerr
		}
		b.answer(cq.ID, "Error: "+errText(err))
		return nil
	}

	torrent, err := b.client.Get(ctx, a.TorrentID)
	if err != nil {
		if handled, rerr := b.redirectIfGone(ctx, cq, key, err); handled {
			return rerr
		}
		b.answer(cq.ID, "Error: "+errText(err))
		return nil
	}

	text, markup := views.Files(torrent)
	if err := b.editView(key, text, &markup, tgbotapi.ModeMarkdownV2); err != nil {
		return err
	}
	b.answer(cq.ID, "")
	return nil
}

func (b *Bot) callbackDeleteMenu(ctx context.Context, cq *tgbotapi.CallbackQuery, key refresh.Key, a action.Action) error {
	torrent, err := b.client.Get(ctx, a.TorrentID)
	if err != nil {
		if handled, rerr := b.redirectIfGone(ctx, cq, key, err); handled {
			return rerr
		}
		b.answer(cq.ID, "Error: "+errText(err))
		return nil
	}

	// The confirmation shows the raw name, so no markup mode here.
	text, markup := views.DeleteMenu(torrent)
	if err := b.editView(key, text, &markup, ""); err != nil {
		return err
	}
	b.answer(cq.ID, "")
	return nil
}

func (b *Bot) callbackDelete(ctx context.Context, cq *tgbotapi.CallbackQuery, key refresh.Key, a action.Action) error {
	if err := b.client.Remove(ctx, a.TorrentID, a.DeleteData); err != nil && !errors.Is(err, types.ErrNotFound) {
		b.answer(cq.ID, "Error: "+errText(err))
		return nil
	}
	if b.monitor != nil {
		b.monitor.RemoveOwner(a.TorrentID)
	}
	b.logger.Info().
		Int64("torrentId", a.TorrentID).
		Bool("deleteData", a.DeleteData).
		Msg("Torrent removed")

	b.answer(cq.ID, "Deleted")

	// Give the daemon a beat to drop the torrent from its list before the
	// list view replaces the confirmation.
	time.Sleep(100 * time.Millisecond)

	torrents, err := b.client.List(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to list torrents after delete")
		return nil
	}
	text, markup := views.TorrentList(torrents, 0)
	if text == views.EmptyListText {
		b.deleteMessage(key)
		b.sendPlain(key.ChatID, text)
		return nil
	}
	return b.editView(key, text, &markup, tgbotapi.ModeMarkdownV2)
}

// callbackAdd covers the post-add flow: the confirmation menu, the
// pre-start file selection, and the start/cancel decisions.
func (b *Bot) callbackAdd(ctx context.Context, cq *tgbotapi.CallbackQuery, key refresh.Key, a action.Action) error {
	if a.Kind == action.KindAddAction {
		switch a.Verb {
		case action.VerbStart:
			if err := b.client.Start(ctx, a.TorrentID); err != nil {
				if handled, rerr := b.redirectIfGone(ctx, cq, key, err); handled {
					return rerr
				}
				b.answer(cq.ID, "Error: "+errText(err))
				return nil
			}
			torrent, err := b.client.Get(ctx, a.TorrentID)
			if err != nil {
				if handled, rerr := b.redirectIfGone(ctx, cq, key, err); handled {
					return rerr
				}
				b.answer(cq.ID, "Error: "+errText(err))
				return nil
			}
			editErr := b.showDetail(key, torrent, true)
			if editErr != nil && !refresh.IsNotModified(editErr) {
				return editErr
			}
			b.answer(cq.ID, "Started")
			return nil

		case action.VerbCancel:
			if err := b.client.Remove(ctx, a.TorrentID, true); err != nil && !errors.Is(err, types.ErrNotFound) {
				b.answer(cq.ID, "Error: "+errText(err))
				return nil
			}
			if b.monitor != nil {
				b.monitor.RemoveOwner(a.TorrentID)
			}
			b.answer(cq.ID, "Canceled")
			return b.editView(key, "Torrent deleted", nil, "")
		}
		// Unknown verb re-renders the confirmation menu below.
	}

	torrent, err := b.client.Get(ctx, a.TorrentID)
	if err != nil {
		if handled, rerr := b.redirectIfGone(ctx, cq, key, err); handled {
			return rerr
		}
		b.answer(cq.ID, "Error: "+errText(err))
		return nil
	}

	var (
		text   string
		markup tgbotapi.InlineKeyboardMarkup
	)
	switch a.Kind {
	case action.KindSelectFiles:
		text, markup = views.SelectFiles(torrent)
	case action.KindFileSelect:
		if err := b.client.SetFilesWanted(ctx, a.TorrentID, []int64{a.FileID}, a.Wanted); err != nil {
			b.answer(cq.ID, "Error: "+errText(err))
			return nil
		}
		refetched, err := b.client.Get(ctx, a.TorrentID)
		if err != nil {
			b.answer(cq.ID, "Error: "+errText(err))
			return nil
		}
		text, markup = views.SelectFiles(refetched)
	default:
		text, markup = views.AddMenu(torrent)
	}

	if err := b.editView(key, text, &markup, tgbotapi.ModeMarkdownV2); err != nil {
		return err
	}
	b.answer(cq.ID, "")
	return nil
}

// showDetail renders the detail view into the message and, when the
// torrent warrants it, arms a fresh refresh job. The countdown shown in
// the first render is the full window. The returned error may be the
// benign not-modified rejection; callers classify it.
func (b *Bot) showDetail(key refresh.Key, torrent *types.Torrent, autoRefresh bool) error {
	var remaining *int
	if autoRefresh {
		r := b.refresh.MaxDurationSec()
		remaining = &r
	}

	text, markup := views.TorrentDetail(torrent, remaining)
	err := b.EditMessage(key.ChatID, key.MessageID, text, &markup)
	if err != nil && !refresh.IsNotModified(err) {
		return err
	}

	if autoRefresh {
		b.refresh.Start(key, torrent.ID)
	}
	return err
}

// redirectIfGone handles the torrent-vanished case: tell the user and
// land them back on the list instead of a dead detail view. The second
// return value carries a render failure out of the redirect itself.
func (b *Bot) redirectIfGone(ctx context.Context, cq *tgbotapi.CallbackQuery, key refresh.Key, err error) (bool, error) {
	if !errors.Is(err, types.ErrNotFound) {
		return false, nil
	}

	b.answer(cq.ID, "Torrent no longer exists")

	torrents, listErr := b.client.List(ctx)
	if listErr != nil {
		b.logger.Error().Err(listErr).Msg("Failed to list torrents")
		return true, nil
	}
	text, markup := views.TorrentList(torrents, 0)
	if text == views.EmptyListText {
		b.deleteMessage(key)
		b.sendPlain(key.ChatID, text)
		return true, nil
	}
	return true, b.editView(key, text, &markup, tgbotapi.ModeMarkdownV2)
}

// ackText picks the toast for a completed render. Reload presses get
// explicit feedback because the content often has not changed.
func (b *Bot) ackText(reload bool, editErr error) string {
	if !reload {
		return ""
	}
	if refresh.IsNotModified(editErr) {
		return "Nothing to reload"
	}
	return "Reloaded"
}

// editView edits a message and strips the benign not-modified rejection;
// anything left is a real render failure for the caller to surface.
func (b *Bot) editView(key refresh.Key, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) error {
	if err := b.edit(key.ChatID, key.MessageID, text, markup, parseMode); err != nil && !refresh.IsNotModified(err) {
		return err
	}
	return nil
}

func (b *Bot) deleteMessage(key refresh.Key) {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(key.ChatID, key.MessageID)); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to delete message")
	}
}

// errText maps daemon errors to the short form shown in replies and
// callback toasts.
func errText(err error) string {
	var daemonErr *types.DaemonError
	switch {
	case errors.As(err, &daemonErr):
		return daemonErr.Message
	case errors.Is(err, types.ErrAuthFailed):
		return "daemon authentication failed"
	case errors.Is(err, types.ErrNotFound):
		return "torrent no longer exists"
	default:
		return "daemon is unreachable"
	}
}
