package service

import (
	"context"
	"errors"
	"sync"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/models"
	"strategy_runtime/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Bot is the slice of *tgbot.BotAPI the notifier uses.
type Bot interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Strategies lists a tenant's strategy records for the /strategies command.
type Strategies interface {
	List(ctx context.Context, userID string) ([]models.StrategyConfig, error)
}

type Config struct {
	ServiceChatID int64
	ChatIDs       map[string][]int64 // user id -> chats
}

// Telegram relays notify.events to the chats of each event's user and answers
// a couple of read-only commands.
type Telegram struct {
	bot        Bot
	bus        bus.Bus
	strategies Strategies
	cfg        Config
	users      map[int64][]string // chat -> user ids
	log        *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	sub    bus.Subscription
	wg     sync.WaitGroup
}

func NewTelegram(bot Bot, b bus.Bus, strategies Strategies, cfg Config) *Telegram {
	users := make(map[int64][]string)
	for user, chats := range cfg.ChatIDs {
		for _, c := range chats {
			users[c] = append(users[c], user)
		}
	}
	return &Telegram{
		bot:        bot,
		bus:        b,
		strategies: strategies,
		cfg:        cfg,
		users:      users,
		log:        logger.Named("telegram"),
	}
}

func (t *Telegram) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}

	sub, err := t.bus.Subscribe(ctx, models.NotifyTopic)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.sub, t.cancel = sub, cancel

	updates := t.bot.GetUpdatesChan(tgbot.UpdateConfig{Timeout: 30})

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.relay(runCtx, sub)
	}()
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(runCtx, u)
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return
	}
	t.cancel()
	if err := t.sub.Close(); err != nil {
		t.log.Warnw("failed to close notify subscription", "err", err)
	}
	t.bot.StopReceivingUpdates()
	t.wg.Wait()
	t.cancel, t.sub = nil, nil
}

func (t *Telegram) relay(ctx context.Context, sub bus.Subscription) {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrSubscriptionClosed) {
				t.log.Errorw("notify relay stopped", "err", err)
			}
			return
		}
		t.deliver(ev)
	}
}

func (t *Telegram) deliver(ev models.Payload) {
	user, _ := ev.String("user_id")
	text := formatEvent(ev)

	chats := t.cfg.ChatIDs[user]
	if t.cfg.ServiceChatID != 0 {
		chats = append(append([]int64(nil), chats...), t.cfg.ServiceChatID)
	}
	if len(chats) == 0 {
		t.log.Debugw("no chat for event", "user_id", user)
		return
	}
	for _, chatID := range chats {
		if _, err := t.send(chatID, text); err != nil {
			t.log.Warnw("send failed", "chat_id", chatID, "err", err)
		}
	}
}

func (t *Telegram) send(chatID int64, msg string) (tgbot.Message, error) {
	return t.bot.Send(tgbot.NewMessage(chatID, msg))
}
