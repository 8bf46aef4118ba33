package service

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	chatID := msg.Chat.ID

	var text string
	switch msg.Command() {
	case "start":
		text = fmt.Sprintf("chat id: %d", chatID)
	case "strategies":
		text = t.listStrategies(ctx, chatID)
	default:
		return
	}
	if _, err := t.send(chatID, text); err != nil {
		t.log.Warnw("reply failed", "chat_id", chatID, "err", err)
	}
}

func (t *Telegram) listStrategies(ctx context.Context, chatID int64) string {
	users := t.users[chatID]
	if len(users) == 0 {
		return "this chat is not linked to any user"
	}
	var b strings.Builder
	for _, u := range users {
		cfgs, err := t.strategies.List(ctx, u)
		if err != nil {
			t.log.Errorw("list strategies", "user_id", u, "err", err)
			fmt.Fprintf(&b, "%s: failed to load strategies\n", u)
			continue
		}
		b.WriteString(formatStrategies(u, cfgs))
	}
	return b.String()
}
