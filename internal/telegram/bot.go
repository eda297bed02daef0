package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"eventbot/internal/config"
	"eventbot/internal/resources"
	"eventbot/internal/state"
	"eventbot/internal/storage"
	"eventbot/internal/users"
)

// MessageLog records every incoming message and serves them back for reports.
type MessageLog interface {
	LogMessage(ctx context.Context, msg storage.Message) (storage.Message, error)
	MessagesBetween(ctx context.Context, from, to time.Time) ([]storage.Message, error)
}

// Feeds is the part of resources.Resources the commands use.
type Feeds interface {
	Events(ctx context.Context, n int) ([]resources.Event, error)
	FreeBook(ctx context.Context) (resources.Book, error)
}

// sender is the slice of the Bot API the handlers need; tests replace it.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Deps struct {
	States   *state.States
	Feeds    Feeds
	Users    *users.Service
	Messages MessageLog
}

type Bot struct {
	api      *tgbotapi.BotAPI
	s        sender
	states   *state.States
	feeds    Feeds
	users    *users.Service
	messages MessageLog
	cfg      *config.Config
	loc      *time.Location
	log      *zap.SugaredLogger
	now      func() time.Time
}

func New(cfg *config.Config, deps Deps, log *zap.SugaredLogger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram api: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log.Infof("🤖 Authorized on account @%s", api.Self.UserName)

	return &Bot{
		api:      api,
		s:        api,
		states:   deps.States,
		feeds:    deps.Feeds,
		users:    deps.Users,
		messages: deps.Messages,
		cfg:      cfg,
		loc:      loc,
		log:      log,
		now:      time.Now,
	}, nil
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				b.handleIncomingMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	b.logMessage(ctx, msg)

	if !msg.IsCommand() {
		return
	}
	b.handleCommand(ctx, msg)
}

func (b *Bot) logMessage(ctx context.Context, msg *tgbotapi.Message) {
	b.log.Debugf("Incoming message from %d (@%s) in %d: %q", msg.From.ID, msg.From.UserName, msg.Chat.ID, msg.Text)
	if b.messages == nil {
		return
	}
	_, err := b.messages.LogMessage(ctx, storage.Message{
		UserID:   msg.From.ID,
		Username: msg.From.UserName,
		ChatID:   msg.Chat.ID,
		Text:     msg.Text,
		SentAt:   msg.Time(),
	})
	if err != nil {
		b.log.Errorf("❌ Failed to log message from %d: %v", msg.From.ID, err)
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.s.Send(msg); err != nil {
		b.log.Errorf("failed to send message to %d: %v", chatID, err)
	}
}
