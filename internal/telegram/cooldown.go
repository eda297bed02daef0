package telegram

import (
	"context"
	"fmt"
	"time"
)

// cooldownNamespace holds per-chat command timestamps. The "wait" notice flag
// lives in scratch so it resets with the process and never reaches storage.
const cooldownNamespace = "cooldown"

// allow reports whether chatID may run cmd now and records the run. Inside
// the window the chat gets one notice, further calls are ignored silently.
// On storage errors the command is still allowed.
func (b *Bot) allow(ctx context.Context, chatID int64, cmd string) (bool, error) {
	if b.cfg.CommandCooldown <= 0 {
		return true, nil
	}
	rec, err := b.states.Get(ctx, cooldownNamespace, chatID)
	if err != nil {
		return true, err
	}

	lastKey, warnedKey := "last_"+cmd, "warned_"+cmd
	now := b.now()

	if v, ok := rec.Get(lastKey); ok {
		if last, ok := v.(time.Time); ok && now.Sub(last) < b.cfg.CommandCooldown {
			if warned, _ := rec.ScratchValue(warnedKey); warned == true {
				return false, nil
			}
			wait := b.cfg.CommandCooldown - now.Sub(last)
			b.sendMessage(chatID, fmt.Sprintf("⏳ /%s was used recently, try again in %s.", cmd, wait.Round(time.Second)))
			err := rec.MutateScratch(ctx, func(scratch map[string]any) {
				scratch[warnedKey] = true
			})
			return false, err
		}
	}

	if _, ok := rec.ScratchValue(warnedKey); ok {
		if err := rec.MutateScratch(ctx, func(scratch map[string]any) {
			delete(scratch, warnedKey)
		}); err != nil {
			return true, err
		}
	}
	return true, rec.Set(ctx, lastKey, now)
}
