package service

import (
	"fmt"
	"strings"

	"strategy_runtime/internal/models"
)

var eventIcons = map[string]string{
	models.EventStrategyStarted: "▶️",
	models.EventStrategyStopped: "⏹",
	models.EventOrderPlaced:     "✅",
	models.EventOrderRejected:   "❌",
}

func formatEvent(ev models.Payload) string {
	kind, _ := ev.String("kind")
	text, ok := ev.String("text")
	if !ok {
		text = kind
	}
	if icon, ok := eventIcons[kind]; ok {
		return icon + " " + text
	}
	return text
}

func formatStrategies(user string, cfgs []models.StrategyConfig) string {
	if len(cfgs) == 0 {
		return fmt.Sprintf("%s: no strategies\n", user)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", user)
	for _, c := range cfgs {
		fmt.Fprintf(&b, "  %s %s %s %s [%s] ema %d/%d atr>=%s risk %s%%\n",
			c.ID, c.ConnectorName, c.TradingPair, c.Timeframe, c.Status,
			c.FastEMA, c.SlowEMA, f2(c.ATRThreshold), f2(c.RiskPctPerTrade*100))
	}
	return b.String()
}

func f2(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
