package algolab

import (
	"time"

	"cloud.google.com/go/civil"
	// Required for easyjson generation
	_ "github.com/mailru/easyjson/gen"
	"github.com/shopspring/decimal"
)

//go:generate go install github.com/mailru/easyjson/...@v0.7.7
//go:generate easyjson -all $GOFILE

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

type OrderType string

const (
	Limit     OrderType = "LIMIT"
	Market    OrderType = "MARKET"
	Stop      OrderType = "STOP"
	StopLimit OrderType = "STOP_LIMIT"
)

type TimeInForce string

const (
	Day TimeInForce = "DAY"
	IOC TimeInForce = "IOC"
)

// OrderStatus is the lifecycle state of an order as reported by the
// vendor, both over REST and on the order status stream.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderSubmitted       OrderStatus = "SUBMITTED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further transitions can follow s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// CandlePeriod is the candle resolution in minutes, as the vendor
// expects it on the wire.
type CandlePeriod string

const (
	Period1Min  CandlePeriod = "1"
	Period5Min  CandlePeriod = "5"
	Period15Min CandlePeriod = "15"
	Period30Min CandlePeriod = "30"
	Period60Min CandlePeriod = "60"
	PeriodDay   CandlePeriod = "1440"
)

// OrderResult is the acknowledgement returned by the order entry
// endpoints.
type OrderResult struct {
	BrokerOrderID string      `json:"brokerOrderId"`
	Status        OrderStatus `json:"status"`
	Message       string      `json:"message"`
}

// EquityInfo is a point-in-time quote for a single instrument.
type EquityInfo struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Last        decimal.Decimal `json:"lastPrice"`
	Bid         decimal.Decimal `json:"bidPrice"`
	Ask         decimal.Decimal `json:"askPrice"`
	Open        decimal.Decimal `json:"openPrice"`
	High        decimal.Decimal `json:"highPrice"`
	Low         decimal.Decimal `json:"lowPrice"`
	PrevClose   decimal.Decimal `json:"prevClose"`
	Ceiling     decimal.Decimal `json:"ceiling"`
	Floor       decimal.Decimal `json:"floor"`
	TotalVolume decimal.Decimal `json:"totalVolume"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

//easyjson:json
type candleSlice []Candle

// Position is one row of the instant position report.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgCost     decimal.Decimal `json:"avgCost"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	MarketValue decimal.Decimal `json:"marketValue"`
	Profit      decimal.Decimal `json:"profit"`
}

//easyjson:json
type positionSlice []Position

// Transaction is one of today's orders with its current state.
type Transaction struct {
	Ref       string          `json:"ref"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Status    OrderStatus     `json:"status"`
	Time      time.Time       `json:"time"`
}

//easyjson:json
type transactionSlice []Transaction

// CashFlow is the settled and settling cash per value date: T0 is
// today, T1 and T2 the next two settlement days.
type CashFlow struct {
	T0 decimal.Decimal `json:"t0"`
	T1 decimal.Decimal `json:"t1"`
	T2 decimal.Decimal `json:"t2"`
}

// StatementEntry is one account statement row.
type StatementEntry struct {
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Balance     decimal.Decimal `json:"balance"`
}

//easyjson:json
type statementSlice []StatementEntry

// OrderHistoryEntry is one state transition of an order, oldest first.
type OrderHistoryEntry struct {
	Ref       string          `json:"ref"`
	Status    OrderStatus     `json:"status"`
	Quantity  decimal.Decimal `json:"quantity"`
	FilledQty decimal.Decimal `json:"filledQty"`
	Price     decimal.Decimal `json:"price"`
	Time      time.Time       `json:"time"`
	Note      string          `json:"note"`
}

//easyjson:json
type orderHistorySlice []OrderHistoryEntry

// RiskSimulation is the account-level margin picture returned by the
// risk simulation endpoint.
type RiskSimulation struct {
	Equity          decimal.Decimal `json:"equity"`
	UsedMargin      decimal.Decimal `json:"usedMargin"`
	AvailableMargin decimal.Decimal `json:"availableMargin"`
	RiskRatio       decimal.Decimal `json:"riskRatio"`
}
