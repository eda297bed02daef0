package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"eventbot/internal/storage"
)

// DailyStats summarizes one day of logged messages.
type DailyStats struct {
	Date          string              `json:"date"`
	TotalMessages int                 `json:"total_messages"`
	UniqueUsers   int                 `json:"unique_users"`
	ActiveChats   int                 `json:"active_chats"`
	Commands      map[string]int      `json:"commands"`
	UserStats     map[int64]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Messages int    `json:"messages"`
	Commands int    `json:"commands"`
}

// AnalyzeDailyMessages counts the messages sent on targetDate's calendar day
// in targetDate's location.
func AnalyzeDailyMessages(messages []storage.Message, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:      startOfDay.Format("2006-01-02"),
		Commands:  make(map[string]int),
		UserStats: make(map[int64]UserStats),
	}
	chats := make(map[int64]bool)

	for _, m := range messages {
		if m.SentAt.Before(startOfDay) || !m.SentAt.Before(endOfDay) {
			continue
		}
		if strings.TrimSpace(m.Text) == "" {
			continue
		}

		stats.TotalMessages++
		chats[m.ChatID] = true

		userStat, exists := stats.UserStats[m.UserID]
		if !exists {
			userStat = UserStats{UserID: m.UserID}
		}
		if m.Username != "" {
			userStat.Username = m.Username
		}
		userStat.Messages++

		if cmd := commandOf(m.Text); cmd != "" {
			stats.Commands[cmd]++
			userStat.Commands++
		}
		stats.UserStats[m.UserID] = userStat
	}

	stats.UniqueUsers = len(stats.UserStats)
	stats.ActiveChats = len(chats)
	return stats
}

// commandOf extracts "events" from "/events@SomeBot args".
func commandOf(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text[1:])
	if len(cmd) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(cmd[0], "@")
	return strings.ToLower(name)
}

// GenerateReportSummary renders the stats as a chat message.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage report for %s\n\n", ds.Date)
	fmt.Fprintf(&b, "- Messages: %d\n- Users: %d\n- Chats: %d\n", ds.TotalMessages, ds.UniqueUsers, ds.ActiveChats)

	if len(ds.Commands) > 0 {
		names := make([]string, 0, len(ds.Commands))
		for name := range ds.Commands {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if ds.Commands[names[i]] != ds.Commands[names[j]] {
				return ds.Commands[names[i]] > ds.Commands[names[j]]
			}
			return names[i] < names[j]
		})
		b.WriteString("\nCommands:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- /%s: %d\n", name, ds.Commands[name])
		}
	}

	if len(ds.UserStats) > 0 {
		users := make([]UserStats, 0, len(ds.UserStats))
		for _, u := range ds.UserStats {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool {
			if users[i].Messages != users[j].Messages {
				return users[i].Messages > users[j].Messages
			}
			return users[i].UserID < users[j].UserID
		})
		b.WriteString("\nMost active:\n")
		for i, u := range users {
			if i == 5 {
				break
			}
			name := u.Username
			if name == "" {
				name = fmt.Sprintf("id %d", u.UserID)
			} else {
				name = "@" + name
			}
			fmt.Fprintf(&b, "- %s: %d messages\n", name, u.Messages)
		}
	}
	return b.String()
}

// ToJSON renders the stats for the admin /stats json view.
func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
