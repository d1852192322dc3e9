// Package views renders message texts and inline keyboards from daemon
// snapshots. Everything here is a pure function of its inputs so the menus
// can be rebuilt from scratch on every interaction.
package views

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/transmote/transmote/internal/bot/action"
	"github.com/transmote/transmote/internal/torrents/types"
)

// PageSize is the number of torrents per page in the list view.
const PageSize = 10

// EmptyListText is the sentinel rendered when the daemon has no torrents.
// Callers compare against it to decide between deleting and editing the
// displayed message, so it must never collide with a rendered list.
const EmptyListText = "Nothing to display"

const (
	progressBarWidth = 10
	barDone          = "📦"
	barTodo          = "⬜"
)

// Escape escapes MarkdownV2 reserved characters in user-controlled text.
func Escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, s)
}

func statusGlyph(s types.Status) string {
	switch s {
	case types.StatusDownloading:
		return "⬇️"
	case types.StatusSeeding:
		return "🌱"
	case types.StatusStopped:
		return "⏸"
	case types.StatusChecking:
		return "🔄"
	case types.StatusCheckWait, types.StatusDownloadWait, types.StatusSeedWait:
		return "⏳"
	default:
		return "❓"
	}
}

// TorrentList renders the paginated torrent list. offset is the index of
// the first torrent to show; out-of-range offsets clamp to the nearest page.
func TorrentList(torrents []types.Torrent, offset int) (string, tgbotapi.InlineKeyboardMarkup) {
	if len(torrents) == 0 {
		return EmptyListText, tgbotapi.NewInlineKeyboardMarkup()
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(torrents) {
		offset = (len(torrents) - 1) / PageSize * PageSize
	}
	end := offset + PageSize
	if end > len(torrents) {
		end = len(torrents)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range torrents[offset:end] {
		label := fmt.Sprintf("%s %s %.0f%%", statusGlyph(t.Status), t.Name, t.Progress)
		view := action.Action{Kind: action.KindTorrent, TorrentID: t.ID, Verb: action.VerbView}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, view.Encode()),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if offset > 0 {
		prev := action.Action{Kind: action.KindListGoto, Offset: offset - PageSize}
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("«", prev.Encode()))
	}
	reload := action.Action{Kind: action.KindListGoto, Offset: offset, Reload: true}
	nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("🔄", reload.Encode()))
	if end < len(torrents) {
		next := action.Action{Kind: action.KindListGoto, Offset: end}
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("»", next.Encode()))
	}
	rows = append(rows, nav)

	text := Escape(fmt.Sprintf("Torrents %d-%d of %d", offset+1, end, len(torrents)))
	return text, tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// TorrentDetail renders the detail view of one torrent. When remaining is
// non-nil the view is auto-refreshing and the countdown is baked into the
// text.
func TorrentDetail(t *types.Torrent, remaining *int) (string, tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", Escape(t.Name))
	fmt.Fprintf(&b, "Status: %s\n", Escape(string(t.Status)))
	fmt.Fprintf(&b, "%s %s\n", ProgressBar(t.Progress), Escape(fmt.Sprintf("%.1f%%", t.Progress)))
	fmt.Fprintf(&b, "ETA: %s\n", Escape(FormatETA(t.ETA)))
	fmt.Fprintf(&b, "Size: %s", Escape(humanize.IBytes(uint64(t.Size))))
	if t.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", Escape(t.Error))
	}
	if remaining != nil {
		fmt.Fprintf(&b, "\n%s", Escape(fmt.Sprintf("Auto-refresh: %ds left", *remaining)))
	}

	var control []tgbotapi.InlineKeyboardButton
	if t.Status.Active() {
		stop := action.Action{Kind: action.KindTorrent, TorrentID: t.ID, Verb: action.VerbStop}
		control = append(control, tgbotapi.NewInlineKeyboardButtonData("⏸ Stop", stop.Encode()))
	} else {
		start := action.Action{Kind: action.KindTorrent, TorrentID: t.ID, Verb: action.VerbStart}
		control = append(control, tgbotapi.NewInlineKeyboardButtonData("▶️ Start", start.Encode()))
	}
	verify := action.Action{Kind: action.KindTorrent, TorrentID: t.ID, Verb: action.VerbVerify}
	control = append(control, tgbotapi.NewInlineKeyboardButtonData("🔍 Verify", verify.Encode()))

	files := action.Action{Kind: action.KindFiles, TorrentID: t.ID}
	deleteMenu := action.Action{Kind: action.KindDeleteMenu, TorrentID: t.ID}
	reload := action.Action{Kind: action.KindTorrent, TorrentID: t.ID, Verb: action.VerbReload}
	back := action.Action{Kind: action.KindListGoto, Offset: 0}

	markup := tgbotapi.NewInlineKeyboardMarkup(
		control,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📂 Files", files.Encode()),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", deleteMenu.Encode()),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Reload", reload.Encode()),
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", back.Encode()),
		),
	)

	return b.String(), markup
}

// Files renders the file list with per-file wanted toggles.
func Files(t *types.Torrent) (string, tgbotapi.InlineKeyboardMarkup) {
	rows := fileToggleRows(t, action.KindFileEdit)

	back := action.Action{Kind: action.KindTorrent, TorrentID: t.ID, Verb: action.VerbView}
	reload := action.Action{Kind: action.KindFiles, TorrentID: t.ID, Reload: true}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 Reload", reload.Encode()),
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", back.Encode()),
	))

	text := fmt.Sprintf("*%s*\n%s", Escape(t.Name), Escape("Toggle files to download:"))
	return text, tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// SelectFiles renders the file-selection menu shown before starting a
// freshly added torrent.
func SelectFiles(t *types.Torrent) (string, tgbotapi.InlineKeyboardMarkup) {
	rows := fileToggleRows(t, action.KindFileSelect)

	start := action.Action{Kind: action.KindAddAction, TorrentID: t.ID, Verb: action.VerbStart}
	cancel := action.Action{Kind: action.KindAddAction, TorrentID: t.ID, Verb: action.VerbCancel}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("▶️ Start download", start.Encode()),
		tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", cancel.Encode()),
	))

	text := fmt.Sprintf("*%s*\n%s", Escape(t.Name), Escape("Choose files, then start the download:"))
	return text, tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func fileToggleRows(t *types.Torrent, kind action.Kind) [][]tgbotapi.InlineKeyboardButton {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, f := range t.Files {
		box := "⬜"
		if f.Wanted {
			box = "✅"
		}
		label := fmt.Sprintf("%s %s %.0f%%", box, f.Name, FileProgress(f))
		toggle := action.Action{Kind: kind, TorrentID: t.ID, FileID: f.ID, Wanted: !f.Wanted}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, toggle.Encode()),
		))
	}
	return rows
}

// DeleteMenu renders the delete confirmation. Plain text, no markup mode.
func DeleteMenu(t *types.Torrent) (string, tgbotapi.InlineKeyboardMarkup) {
	remove := action.Action{Kind: action.KindDelete, TorrentID: t.ID}
	removeData := action.Action{Kind: action.KindDelete, TorrentID: t.ID, DeleteData: true}
	cancel := action.Action{Kind: action.KindTorrent, TorrentID: t.ID, Verb: action.VerbView}

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Remove", remove.Encode()),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Remove and delete data", removeData.Encode()),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cancel.Encode()),
		),
	)

	return fmt.Sprintf("Remove %q?", t.Name), markup
}

// AddMenu renders the confirmation menu shown right after a torrent is
// added (paused) to the daemon.
func AddMenu(t *types.Torrent) (string, tgbotapi.InlineKeyboardMarkup) {
	start := action.Action{Kind: action.KindAddAction, TorrentID: t.ID, Verb: action.VerbStart}
	selectFiles := action.Action{Kind: action.KindSelectFiles, TorrentID: t.ID}
	cancel := action.Action{Kind: action.KindAddAction, TorrentID: t.ID, Verb: action.VerbCancel}

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Start", start.Encode()),
			tgbotapi.NewInlineKeyboardButtonData("📂 Select files", selectFiles.Encode()),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", cancel.Encode()),
		),
	)

	text := fmt.Sprintf("*%s*\n%s", Escape(t.Name), Escape("Start downloading?"))
	return text, markup
}

// MainMenu is the /start and /menu reply. Plain text.
func MainMenu() string {
	return strings.Join([]string{
		"Transmission remote control.",
		"",
		"/menu - show this menu",
		"/add - add a new torrent",
		"/torrents - list all torrents",
		"/memory - show free disk space",
	}, "\n")
}

// AddInstructions is the /add reply. Plain text.
func AddInstructions() string {
	return "Send a magnet link, a link to a .torrent file, or the .torrent file itself."
}

// FreeSpace renders the /memory reply. Plain text.
func FreeSpace(bytes int64) string {
	return fmt.Sprintf("Free space: %s", humanize.IBytes(uint64(bytes)))
}

// ProgressBar renders a fixed-width bar: one done glyph per full 10% of
// progress, padded with the in-progress glyph.
func ProgressBar(progress float64) string {
	done := int(progress) * progressBarWidth / 100
	if done < 0 {
		done = 0
	}
	if done > progressBarWidth {
		done = progressBarWidth
	}
	return strings.Repeat(barDone, done) + strings.Repeat(barTodo, progressBarWidth-done)
}

// FormatETA formats a daemon ETA in seconds. Negative values mean the
// daemon cannot compute one.
func FormatETA(seconds int64) string {
	if seconds < 0 {
		return "Unavailable"
	}

	days := seconds / 86400
	rem := seconds % 86400
	hours := rem / 3600
	minutes := rem % 3600 / 60
	secs := rem % 60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%d days ", days)
	}
	if hours > 0 {
		fmt.Fprintf(&b, "%d h %d min", hours, minutes)
	} else {
		fmt.Fprintf(&b, "%d min %d sec", minutes, secs)
	}
	return b.String()
}

// FileProgress returns the completion percent of a file. A zero-size file
// is 0.0, never a division by zero.
func FileProgress(f types.File) float64 {
	if f.Size == 0 {
		return 0.0
	}
	return 100.0 * float64(f.Completed) / float64(f.Size)
}
