package models

// Side как на бирже: "BUY"/"SELL".
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// PositionAction tells whether an order opens exposure or closes it.
type PositionAction string

const (
	ActionOpen  PositionAction = "OPEN"
	ActionClose PositionAction = "CLOSE"
)

// OrderIntent is what a strategy asks the execution service to submit.
// Price == 0 means "no explicit price".
type OrderIntent struct {
	ConnectorName string
	TradingPair   string
	Side          Side
	Action        PositionAction
	OrderType     OrderType
	Amount        float64
	Price         float64
	Leverage      float64
}

func (i OrderIntent) HasPrice() bool { return i.Price > 0 }
