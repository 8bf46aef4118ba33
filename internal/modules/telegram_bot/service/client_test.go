package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/models"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	chatID int64
	text   string
}

type fakeBot struct {
	mu      sync.Mutex
	sent    []sent
	updates chan tgbot.Update
	stopped bool
}

func newFakeBot() *fakeBot { return &fakeBot{updates: make(chan tgbot.Update, 8)} }

func (b *fakeBot) Send(c tgbot.Chattable) (tgbot.Message, error) {
	m := c.(tgbot.MessageConfig)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{chatID: m.ChatID, text: m.Text})
	return tgbot.Message{}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbot.UpdateConfig) tgbot.UpdatesChannel { return b.updates }

func (b *fakeBot) StopReceivingUpdates() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

func (b *fakeBot) messages() []sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sent(nil), b.sent...)
}

type listing map[string][]models.StrategyConfig

func (l listing) List(_ context.Context, user string) ([]models.StrategyConfig, error) {
	return l[user], nil
}

func TestRelaysEventsToUserChats(t *testing.T) {
	b := bus.NewMemory()
	bot := newFakeBot()
	tg := NewTelegram(bot, b, listing{}, Config{
		ServiceChatID: 99,
		ChatIDs:       map[string][]int64{"user-1": {10, 11}},
	})
	ctx := context.Background()
	require.NoError(t, tg.Start(ctx))
	require.NoError(t, tg.Start(ctx))
	assert.Equal(t, 1, b.SubscriberCount(models.NotifyTopic))

	require.NoError(t, b.Publish(ctx, models.NotifyTopic,
		models.NotifyEvent(models.EventOrderPlaced, "user-1", "s-1", "buy 1 BTC-PERP")))

	require.Eventually(t, func() bool { return len(bot.messages()) == 3 }, time.Second, 5*time.Millisecond)
	msgs := bot.messages()
	assert.Equal(t, []int64{10, 11, 99}, []int64{msgs[0].chatID, msgs[1].chatID, msgs[2].chatID})
	assert.Equal(t, "✅ buy 1 BTC-PERP", msgs[0].text)

	tg.Stop()
	tg.Stop()
	assert.Zero(t, b.SubscriberCount(models.NotifyTopic))
	assert.True(t, bot.stopped)
}

func TestStrategiesCommand(t *testing.T) {
	bot := newFakeBot()
	tg := NewTelegram(bot, bus.NewMemory(), listing{
		"user-1": {{ID: "s-1", ConnectorName: "X", TradingPair: "BTC-PERP", Timeframe: "1m",
			Status: models.StatusRunning, FastEMA: 12, SlowEMA: 26, ATRThreshold: 1, RiskPctPerTrade: 0.01}},
	}, Config{ChatIDs: map[string][]int64{"user-1": {10}}})

	cmd := func(chatID int64, text string) tgbot.Update {
		return tgbot.Update{Message: &tgbot.Message{
			Chat:     &tgbot.Chat{ID: chatID},
			Text:     text,
			Entities: []tgbot.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		}}
	}

	tg.handleUpdate(context.Background(), cmd(10, "/strategies"))
	tg.handleUpdate(context.Background(), cmd(20, "/strategies"))
	tg.handleUpdate(context.Background(), cmd(20, "/unknown"))

	msgs := bot.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].text, "s-1 X BTC-PERP 1m [running] ema 12/26 atr>=1.00 risk 1.00%")
	assert.Equal(t, "this chat is not linked to any user", msgs[1].text)
}
