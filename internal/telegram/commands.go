package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"eventbot/internal/codec"
	"eventbot/internal/resources"
)

type command struct {
	name      string
	help      string
	adminOnly bool
	// cooldown commands hit external feeds and are rate limited per chat
	cooldown bool
}

// commandList is ordered as shown by /help.
var commandList = []command{
	{name: "start", help: "greeting"},
	{name: "help", help: "this list"},
	{name: "events", help: "upcoming events", cooldown: true},
	{name: "book", help: "today's free book", cooldown: true},
	{name: "state", help: "what the bot remembers about this chat"},
	{name: "users", help: "known users", adminOnly: true},
	{name: "stats", help: "today's usage, /stats json for raw data", adminOnly: true},
}

func (b *Bot) handlerFor(name string) func(context.Context, *tgbotapi.Message) {
	switch name {
	case "start":
		return b.handleStart
	case "help":
		return b.handleHelp
	case "events":
		return b.handleEvents
	case "book":
		return b.handleBook
	case "state":
		return b.handleState
	case "users":
		return b.handleUsers
	case "stats":
		return b.handleStats
	}
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	name := msg.Command()
	var cmd command
	for _, c := range commandList {
		if c.name == name {
			cmd = c
		}
	}
	handle := b.handlerFor(cmd.name)
	if handle == nil {
		return
	}
	if cmd.adminOnly && !b.users.IsAdmin(ctx, msg.From.ID) {
		b.sendMessage(msg.Chat.ID, "❌ This command is available to admins only.")
		return
	}
	if cmd.cooldown {
		allowed, err := b.allow(ctx, msg.Chat.ID, name)
		if err != nil {
			b.log.Errorf("❌ Cooldown check for /%s in %d failed: %v", name, msg.Chat.ID, err)
		}
		if !allowed {
			return
		}
	}
	handle(ctx, msg)
}

func (b *Bot) handleStart(_ context.Context, msg *tgbotapi.Message) {
	name := msg.From.FirstName
	if name == "" {
		name = "there"
	}
	b.sendMessage(msg.Chat.ID, fmt.Sprintf("Hi %s! I keep track of upcoming meetups and the free book of the day.\n\n%s", name, b.helpText(false)))
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	b.sendMessage(msg.Chat.ID, b.helpText(b.users.IsAdmin(ctx, msg.From.ID)))
}

func (b *Bot) helpText(admin bool) string {
	var bld strings.Builder
	bld.WriteString("Commands:\n")
	for _, cmd := range commandList {
		if cmd.adminOnly && !admin {
			continue
		}
		fmt.Fprintf(&bld, "/%s - %s\n", cmd.name, cmd.help)
	}
	return bld.String()
}

func (b *Bot) handleEvents(ctx context.Context, msg *tgbotapi.Message) {
	events, err := b.feeds.Events(ctx, b.cfg.EventsListSize)
	if err != nil {
		b.log.Errorf("❌ Events fetch failed: %v", err)
		b.sendMessage(msg.Chat.ID, "Could not load events right now, try again later.")
		return
	}
	if len(events) == 0 {
		b.sendMessage(msg.Chat.ID, "No upcoming events.")
		return
	}

	var bld strings.Builder
	bld.WriteString("📅 Upcoming events:\n")
	for _, e := range events {
		fmt.Fprintf(&bld, "\n%s\n%s\n%s\n", e.Name, e.Time.In(b.loc).Format("Mon 02/01 15:04"), e.Link)
	}
	b.sendMessage(msg.Chat.ID, bld.String())
}

func (b *Bot) handleBook(ctx context.Context, msg *tgbotapi.Message) {
	book, err := b.feeds.FreeBook(ctx)
	if errors.Is(err, resources.ErrNoFreeBook) {
		b.sendMessage(msg.Chat.ID, "No free book today.")
		return
	}
	if err != nil {
		b.log.Errorf("❌ Free book fetch failed: %v", err)
		b.sendMessage(msg.Chat.ID, "Could not load the free book right now, try again later.")
		return
	}

	var bld strings.Builder
	fmt.Fprintf(&bld, "📚 %s\n", book.Name)
	if book.Summary != "" {
		fmt.Fprintf(&bld, "\n%s\n", book.Summary)
	}
	if book.Expires != "" {
		fmt.Fprintf(&bld, "\nLength: %s\n", book.Expires)
	}
	if book.Cover != "" {
		fmt.Fprintf(&bld, "\n%s\n", book.Cover)
	}
	b.sendMessage(msg.Chat.ID, bld.String())
}

// handleState dumps the persisted fields of every namespace this chat has.
func (b *Bot) handleState(_ context.Context, msg *tgbotapi.Message) {
	var bld strings.Builder
	for _, ns := range b.states.Namespaces() {
		rec, ok := b.states.Lookup(ns, msg.Chat.ID)
		if !ok {
			continue
		}
		data, err := codec.Default().EncodeRecord(rec.Fields())
		if err != nil {
			b.log.Errorf("❌ Encode %s/%d: %v", ns, msg.Chat.ID, err)
			continue
		}
		fmt.Fprintf(&bld, "%s: %s\n", ns, data)
	}
	if bld.Len() == 0 {
		b.sendMessage(msg.Chat.ID, "Nothing stored for this chat.")
		return
	}
	b.sendMessage(msg.Chat.ID, bld.String())
}

func (b *Bot) handleUsers(ctx context.Context, msg *tgbotapi.Message) {
	list, err := b.users.List(ctx)
	if err != nil {
		b.log.Errorf("❌ List users failed: %v", err)
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ Could not list users: %v", err))
		return
	}
	if len(list) == 0 {
		b.sendMessage(msg.Chat.ID, "No users yet.")
		return
	}
	var bld strings.Builder
	fmt.Fprintf(&bld, "Users (%d):\n", len(list))
	for _, u := range list {
		admin := ""
		if u.IsAdmin {
			admin = " (admin)"
		}
		fmt.Fprintf(&bld, "- id=%d @%s%s\n", u.ID, u.Username, admin)
	}
	b.sendMessage(msg.Chat.ID, bld.String())
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	stats, err := b.dailyStats(ctx, b.now().In(b.loc))
	if err != nil {
		b.log.Errorf("❌ Stats failed: %v", err)
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ Could not build stats: %v", err))
		return
	}
	if strings.TrimSpace(msg.CommandArguments()) == "json" {
		raw, err := stats.ToJSON()
		if err != nil {
			b.sendMessage(msg.Chat.ID, fmt.Sprintf("❌ %v", err))
			return
		}
		b.sendMessage(msg.Chat.ID, raw)
		return
	}
	b.sendMessage(msg.Chat.ID, stats.GenerateReportSummary())
}
