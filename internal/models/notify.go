package models

// NotifyTopic carries user-facing events (strategy lifecycle, orders).
const NotifyTopic = "notify.events"

const (
	EventStrategyStarted = "strategy_started"
	EventStrategyStopped = "strategy_stopped"
	EventOrderPlaced     = "order_placed"
	EventOrderRejected   = "order_rejected"
)

// NotifyEvent builds a notify payload for one tenant.
func NotifyEvent(kind, userID, strategyID, text string) Payload {
	return Payload{
		"kind":        kind,
		"user_id":     userID,
		"strategy_id": strategyID,
		"text":        text,
	}
}
