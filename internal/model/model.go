// Package model holds the core domain entities shared by the book, the
// matching engine, the store, and the dispatcher: clients, securities,
// orders, and the typed audit message.
package model

import "github.com/stockexchange/matchd/internal/clock"

// Side is which side of the book an order rests on.
type Side byte

const (
	Buy  Side = 'B'
	Sell Side = 'S'
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Trigger is the order's trigger kind.
type Trigger byte

const (
	TriggerMarket Trigger = iota
	TriggerLimit
	TriggerStop
	TriggerLimitStop
)

func (t Trigger) String() string {
	switch t {
	case TriggerMarket:
		return "MARKET"
	case TriggerLimit:
		return "LIMIT"
	case TriggerStop:
		return "STOP"
	case TriggerLimitStop:
		return "LIMIT_STOP"
	default:
		return "UNKNOWN"
	}
}

// ParseTrigger parses the wire-protocol trigger token.
func ParseTrigger(s string) (Trigger, bool) {
	switch s {
	case "MARKET":
		return TriggerMarket, true
	case "LIMIT":
		return TriggerLimit, true
	case "STOP":
		return TriggerStop, true
	case "LIMIT_STOP":
		return TriggerLimitStop, true
	default:
		return 0, false
	}
}

// Status is the order's persisted lifecycle state. CANCELLED is reserved for
// a future cancellation feature; the matching core never produces it.
type Status byte

const (
	StatusPending Status = iota
	StatusCompleted
	StatusCancelled
)

// Client is an account: identity, credentials, cash, and share holdings.
type Client struct {
	ID                uint64
	Name              string
	EncryptedPassword []byte
	Balance           float64
	Portfolio         map[uint64]int64 // action_id -> quantity
}

// Holding returns the client's quantity held of action, 0 if absent.
func (c *Client) Holding(actionID uint64) int64 {
	if c.Portfolio == nil {
		return 0
	}
	return c.Portfolio[actionID]
}

// PricePoint is one entry in a security's time-indexed price history.
type PricePoint struct {
	Time  clock.Time
	Price float64
}

// Security ("action") is a listed instrument.
type Security struct {
	ID       uint64
	Name     string
	Quantity int64
	History  []PricePoint
}

// LastPrice returns the tail of the price history, 0 if none recorded yet.
func (s *Security) LastPrice() float64 {
	if len(s.History) == 0 {
		return 0
	}
	return s.History[len(s.History)-1].Price
}

// Order is a resting or pending client order. The matcher does not change an
// order in place: a partial fill replaces it with a residual Order carrying
// the unfilled Remaining under a new id.
type Order struct {
	ID        uint64
	ClientID  uint64
	ActionID  uint64
	Side      Side
	Trigger   Trigger
	Price     Price
	LowerBand Price
	UpperBand Price
	Quantity  int64
	Remaining int64
	OrderTime clock.Time
	ExpiresAt clock.Time
	Status    Status
}

// Less implements the side's priority predicate: Buy ranks higher prices
// first, Sell ranks lower prices first; ties break on order_date, then
// order_intraday, then order_id.
func (o *Order) Less(other *Order) bool {
	if pricesEqual(o.Price, other.Price) {
		if o.OrderTime != other.OrderTime {
			return o.OrderTime.Before(other.OrderTime)
		}
		return o.ID < other.ID
	}
	return o.Price.Less(other.Price, o.Side)
}

func pricesEqual(a, b Price) bool {
	if a.IsMarket() || b.IsMarket() {
		return a.IsMarket() == b.IsMarket()
	}
	return a.Value() == b.Value()
}

// MessageSender distinguishes who originated a logged message.
type MessageSender byte

const (
	SenderServer MessageSender = iota
	SenderClient
)

// MessageType enumerates the audit log's typed events.
type MessageType string

const (
	MsgClientConnected       MessageType = "CLIENT_CONNECTED"
	MsgClientDisconnected    MessageType = "CLIENT_DISCONNECTED"
	MsgAuthSuccess           MessageType = "AUTHENTIFICATION_SUCCESS"
	MsgAuthFailure           MessageType = "AUTHENTIFICATION_FAILURE"
	MsgOrder                 MessageType = "ORDER"
	MsgTransaction           MessageType = "TRANSACTION"
	MsgDeposit               MessageType = "DEPOSIT"
	MsgWithdraw              MessageType = "WITHDRAW"
	MsgDisplay               MessageType = "DISPLAY"
	MsgError                 MessageType = "ERROR"
	MsgPreOpenPhase          MessageType = "PRE_OPEN_PHASE"
	MsgOpenPhase             MessageType = "OPEN_PHASE"
	MsgContinuousTradingPhase MessageType = "CONTINUOUS_TRADING_PHASE"
	MsgPreClosePhase         MessageType = "PRE_CLOSE_PHASE"
	MsgClosePhase            MessageType = "CLOSE_PHASE"
	MsgServerRestart         MessageType = "SERVER_RESTART"
	MsgServerShutdown        MessageType = "SERVER_SHUTDOWN"
)

// Message is one append-only audit log entry.
type Message struct {
	ID       uint64
	ClientID uint64
	Sender   MessageSender
	Type     MessageType
	Payload  string
	Time     clock.Time
}

// Fill is the product of one apply_fill invocation, emitted for logging and
// for completed-order persistence.
type Fill struct {
	BuyOrderID  uint64
	SellOrderID uint64
	BuyerID     uint64
	SellerID    uint64
	ActionID    uint64
	Quantity    int64
	Price       float64
	Time        clock.Time
}
