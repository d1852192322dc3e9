// Package bot hosts the Telegram session layer: the update loop, the
// identity allow-list and the dispatch from commands and button presses
// to daemon operations.
package bot

import (
	"context"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/transmote/transmote/internal/bot/monitor"
	"github.com/transmote/transmote/internal/bot/refresh"
	"github.com/transmote/transmote/internal/bot/views"
	"github.com/transmote/transmote/internal/torrents/types"
)

// telegramAPI is the slice of tgbotapi.BotAPI the handlers need. Kept
// narrow so tests can stand in a recorder.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot is the Telegram front end. It owns no daemon state of its own;
// every interaction re-fetches from the client and re-renders.
type Bot struct {
	api     telegramAPI
	updates *tgbotapi.BotAPI
	client  types.Client
	refresh *refresh.Scheduler
	monitor *monitor.Monitor
	logger  zerolog.Logger
	allowed map[int64]struct{}

	// fetches .torrent documents forwarded through Telegram
	httpClient *http.Client
}

// New wires the bot to its collaborators. The refresh scheduler and the
// completion monitor get their message callbacks attached here because
// both are constructed before the bot exists. monitor may be nil when
// completion notifications are disabled.
func New(api *tgbotapi.BotAPI, client types.Client, rs *refresh.Scheduler, mon *monitor.Monitor, allowed []int64, logger zerolog.Logger) *Bot {
	b := &Bot{
		api:        api,
		updates:    api,
		client:     client,
		refresh:    rs,
		monitor:    mon,
		logger:     logger.With().Str("component", "bot").Logger(),
		allowed:    make(map[int64]struct{}, len(allowed)),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, id := range allowed {
		b.allowed[id] = struct{}{}
	}

	rs.SetEditor(b)
	if mon != nil {
		mon.SetNotifier(b)
	}
	return b
}

// Run starts long polling and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.registerCommands(); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to register bot commands")
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.updates.GetUpdatesChan(cfg)

	b.logger.Info().Msg("Bot started, polling for updates")

	for {
		select {
		case <-ctx.Done():
			b.updates.StopReceivingUpdates()
			b.refresh.Shutdown()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) registerCommands() error {
	_, err := b.api.Request(tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "menu", Description: "Show the main menu"},
		tgbotapi.BotCommand{Command: "add", Description: "Add a new torrent"},
		tgbotapi.BotCommand{Command: "torrents", Description: "List all torrents"},
		tgbotapi.BotCommand{Command: "memory", Description: "Show free disk space"},
	))
	return err
}

// handleUpdate guards and routes one update. A panic in a handler is
// contained to that update.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("Recovered from handler panic")
			if chat := update.FromChat(); chat != nil {
				b.sendPlain(chat.ID, "Something went wrong")
			}
		}
	}()

	from := update.SentFrom()
	if from == nil {
		return
	}
	if _, ok := b.allowed[from.ID]; !ok {
		b.logger.Warn().
			Int64("userId", from.ID).
			Str("username", from.UserName).
			Msg("Dropping update from user outside the whitelist")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.logger.Error().Err(err).
				Str("data", update.CallbackQuery.Data).
				Msg("Callback handler failed")
			b.sendPlain(update.CallbackQuery.Message.Chat.ID, "Something went wrong")
		}
	}
}

// EditMessage rewrites a sent message with MarkdownV2 content. It is the
// edit path used by the refresh scheduler as well as the callback handlers.
func (b *Bot) EditMessage(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	return b.edit(chatID, messageID, text, markup, tgbotapi.ModeMarkdownV2)
}

func (b *Bot) edit(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup, parseMode string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode
	edit.ReplyMarkup = markup
	_, err := b.api.Request(edit)
	return err
}

// NotifyCompleted tells a user their torrent finished downloading.
func (b *Bot) NotifyCompleted(userID int64, torrentName string) error {
	msg := tgbotapi.NewMessage(userID, "*"+views.Escape(torrentName)+"* downloaded")
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendPlain(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn().Err(err).Int64("chatId", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) sendMarkdown(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn().Err(err).Int64("chatId", chatID).Msg("Failed to send message")
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to answer callback query")
	}
}
