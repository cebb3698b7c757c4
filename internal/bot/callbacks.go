package bot

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const cmdCalendar = "calendar"

// calendarData encodes a calendar page as callback data: "calendar:<login>:<YYYY-MM>".
func calendarData(login string, month civil.Date) string {
	return fmt.Sprintf("%s:%s:%04d-%02d", cmdCalendar, login, month.Year, int(month.Month))
}

func calendarKeyboard(login string, month civil.Date) tgbotapi.InlineKeyboardMarkup {
	prev, next := addMonths(month, -1), addMonths(month, 1)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("« "+prev.Month.String()[:3], calendarData(login, prev)),
			tgbotapi.NewInlineKeyboardButtonData(next.Month.String()[:3]+" »", calendarData(login, next)),
		),
	)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != cmdCalendar {
		return
	}

	login, err := ParseLoginArg(parts[1])
	if err != nil {
		return
	}
	month, err := ParseMonth(parts[2])
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", parts[0],
		"login", login,
		"month", parts[2],
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	b.showCalendar(ctx, chatID, login, month)
}
