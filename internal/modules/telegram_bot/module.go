package telegram

import (
	"context"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/manager"
	"strategy_runtime/internal/modules/config"
	"strategy_runtime/internal/modules/telegram_bot/service"
	"strategy_runtime/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, b bus.Bus, m *manager.StrategyManager) error {
				if cfg.Telegram.Token == "" {
					logger.Info("telegram notifier disabled: no token")
					return nil
				}
				bot, err := tgbot.NewBotAPI(cfg.Telegram.Token)
				if err != nil {
					return err
				}
				t := service.NewTelegram(bot, b, m, service.Config{
					ServiceChatID: cfg.Telegram.ServiceChatID,
					ChatIDs:       cfg.Telegram.ChatIDs,
				})
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return t.Start(ctx)
					},
					OnStop: func(ctx context.Context) error {
						t.Stop()
						return nil
					},
				})
				return nil
			},
		),
	)
}
