package telegram

import (
	"context"
	"fmt"
	"time"

	"eventbot/internal/analytics"
)

func (b *Bot) dailyStats(ctx context.Context, day time.Time) (*analytics.DailyStats, error) {
	if b.messages == nil {
		return nil, fmt.Errorf("message log is not configured")
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	msgs, err := b.messages.MessagesBetween(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return analytics.AnalyzeDailyMessages(msgs, day), nil
}

// SendDailyReport sends today's usage summary to every admin.
func (b *Bot) SendDailyReport(ctx context.Context) error {
	admins := b.users.Admins(ctx)
	if len(admins) == 0 {
		b.log.Warn("⚠️ No admins configured, skipping daily report")
		return nil
	}
	stats, err := b.dailyStats(ctx, b.now().In(b.loc))
	if err != nil {
		return err
	}
	report := stats.GenerateReportSummary()
	for _, id := range admins {
		b.sendMessage(id, report)
	}
	b.log.Infof("📊 Daily report for %s sent to %d admins", stats.Date, len(admins))
	return nil
}
