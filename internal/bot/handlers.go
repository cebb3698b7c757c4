package bot

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"streak_bot/internal/reconcile"
	"streak_bot/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the Calendar About Nothing bot!

Every day with a public commit gets a mark on your calendar. Don't break the chain.

Quick start:
1. /register <github login> to start tracking
2. /streak <login> to see current and longest streaks
3. /top for the leaderboards

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/register <login> - start tracking a GitHub login
/streak <login> - current and longest streak
/top - current and all-time leaderboards
/calendar <login> [YYYY-MM] - month view of active days`)
}

func (b *Bot) handleRegister(ctx context.Context, chatID int64, args string) {
	login, err := ParseLoginArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /register <login>")
		return
	}

	subj, err := b.reg.Register(ctx, login)
	switch {
	case errors.Is(err, reconcile.ErrAlreadyRegistered):
		b.reply(chatID, fmt.Sprintf("You've already registered! Your calendar: %s", CalendarURL(b.cfg.CalendarURL, login)))
	case err != nil && subj != nil:
		b.log.Error("first reconciliation", "login", login, "error", err)
		b.reply(chatID, fmt.Sprintf("Registered %s. The first sync failed and will be retried shortly.", login))
	case err != nil:
		b.log.Error("register", "login", login, "error", err)
		b.reply(chatID, "Registration failed, please try again later.")
	default:
		b.reply(chatID, "Registered!\n\n"+FormatSubject(subj, b.cfg.CalendarURL))
	}
}

func (b *Bot) handleStreak(ctx context.Context, chatID int64, args string) {
	login, err := ParseLoginArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /streak <login>")
		return
	}

	subj, err := b.store.GetSubjectByLogin(ctx, login)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("%s is not registered. Use /register %s.", login, login))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(chatID, FormatSubject(subj, b.cfg.CalendarURL))
}

func (b *Bot) handleTop(ctx context.Context, chatID int64) {
	current, err := b.store.BestCurrentStreaks(ctx, b.reg.Today(), LeaderboardSize)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	longest, err := b.store.BestLongestStreaks(ctx, LeaderboardSize)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(chatID, FormatLeaderboards(current, longest))
}

func (b *Bot) handleCalendar(ctx context.Context, chatID int64, args string) {
	login, month, err := ParseCalendarArgs(args, b.reg.Today())
	if err != nil {
		b.reply(chatID, fmt.Sprintf("%v\nUsage: /calendar <login> [YYYY-MM]", err))
		return
	}
	b.showCalendar(ctx, chatID, login, month)
}

func (b *Bot) showCalendar(ctx context.Context, chatID int64, login string, month civil.Date) {
	subj, err := b.store.GetSubjectByLogin(ctx, login)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("%s is not registered. Use /register %s.", login, login))
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	days, err := b.store.ListDays(ctx, subj.ID, month, monthEnd(month))
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatMonth(subj.Login, month, days))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = calendarKeyboard(subj.Login, month)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send calendar", "chat_id", chatID, "error", err)
	}
}
