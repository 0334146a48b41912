package store

import (
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/model"
)

var emptyFilter = bson.M{}

type clientDoc struct {
	ID        uint64           `bson:"client_id"`
	Name      string           `bson:"name"`
	Password  []byte           `bson:"encrypted_password"`
	Balance   float64          `bson:"balance"`
	Portfolio map[string]int64 `bson:"portfolio"`
}

func toClientDoc(c *model.Client) clientDoc {
	pf := make(map[string]int64, len(c.Portfolio))
	for id, qty := range c.Portfolio {
		pf[keyOf(id)] = qty
	}
	return clientDoc{ID: c.ID, Name: c.Name, Password: c.EncryptedPassword, Balance: c.Balance, Portfolio: pf}
}

func fromClientDoc(d clientDoc) *model.Client {
	pf := make(map[uint64]int64, len(d.Portfolio))
	for k, qty := range d.Portfolio {
		pf[idOf(k)] = qty
	}
	return &model.Client{ID: d.ID, Name: d.Name, EncryptedPassword: d.Password, Balance: d.Balance, Portfolio: pf}
}

type pricePointDoc struct {
	DatePart     int32   `bson:"date_part"`
	IntradayPart int32   `bson:"intraday_part"`
	Price        float64 `bson:"price"`
}

type actionDoc struct {
	ID       uint64          `bson:"action_id"`
	Name     string          `bson:"name"`
	Quantity int64           `bson:"quantity"`
	History  []pricePointDoc `bson:"history"`
}

func toActionDoc(a *model.Security) actionDoc {
	hist := make([]pricePointDoc, len(a.History))
	for i, p := range a.History {
		hist[i] = pricePointDoc{DatePart: p.Time.DatePart, IntradayPart: p.Time.IntradayPart, Price: p.Price}
	}
	return actionDoc{ID: a.ID, Name: a.Name, Quantity: a.Quantity, History: hist}
}

func fromActionDoc(d actionDoc) *model.Security {
	hist := make([]model.PricePoint, len(d.History))
	for i, p := range d.History {
		hist[i] = model.PricePoint{Time: clock.Time{DatePart: p.DatePart, IntradayPart: p.IntradayPart}, Price: p.Price}
	}
	return &model.Security{ID: d.ID, Name: d.Name, Quantity: d.Quantity, History: hist}
}

type priceDoc struct {
	Market bool    `bson:"market"`
	Value  float64 `bson:"value"`
}

func toPriceDoc(p model.Price) priceDoc {
	return priceDoc{Market: p.IsMarket(), Value: p.Value()}
}

func fromPriceDoc(d priceDoc) model.Price {
	if d.Market {
		return model.MarketPrice()
	}
	return model.LimitPrice(d.Value)
}

type orderDoc struct {
	ID           uint64   `bson:"order_id"`
	ClientID     uint64   `bson:"client_id"`
	ActionID     uint64   `bson:"action_id"`
	Side         string   `bson:"side"`
	Trigger      byte     `bson:"trigger_type"`
	Price        priceDoc `bson:"price"`
	LowerBand    priceDoc `bson:"trigger_price_lower"`
	UpperBand    priceDoc `bson:"trigger_price_upper"`
	Quantity     int64    `bson:"quantity"`
	Remaining    int64    `bson:"remaining"`
	OrderDate    int32    `bson:"order_date"`
	OrderIntra   int32    `bson:"order_intraday"`
	ExpireDate   int32    `bson:"expiration_date"`
	ExpireIntra  int32    `bson:"expiration_intraday"`
	Status       byte     `bson:"status"`
}

func toOrderDoc(o *model.Order) orderDoc {
	return orderDoc{
		ID: o.ID, ClientID: o.ClientID, ActionID: o.ActionID,
		Side: string(o.Side), Trigger: byte(o.Trigger),
		Price: toPriceDoc(o.Price), LowerBand: toPriceDoc(o.LowerBand), UpperBand: toPriceDoc(o.UpperBand),
		Quantity: o.Quantity, Remaining: o.Remaining,
		OrderDate: o.OrderTime.DatePart, OrderIntra: o.OrderTime.IntradayPart,
		ExpireDate: o.ExpiresAt.DatePart, ExpireIntra: o.ExpiresAt.IntradayPart,
		Status: byte(o.Status),
	}
}

func fromOrderDoc(d orderDoc) *model.Order {
	return &model.Order{
		ID: d.ID, ClientID: d.ClientID, ActionID: d.ActionID,
		Side: model.Side(d.Side[0]), Trigger: model.Trigger(d.Trigger),
		Price: fromPriceDoc(d.Price), LowerBand: fromPriceDoc(d.LowerBand), UpperBand: fromPriceDoc(d.UpperBand),
		Quantity: d.Quantity, Remaining: d.Remaining,
		OrderTime: clock.Time{DatePart: d.OrderDate, IntradayPart: d.OrderIntra},
		ExpiresAt: clock.Time{DatePart: d.ExpireDate, IntradayPart: d.ExpireIntra},
		Status:    model.Status(d.Status),
	}
}

type messageDoc struct {
	ID           uint64 `bson:"message_id"`
	ClientID     uint64 `bson:"client_id"`
	Sender       byte   `bson:"sender"`
	Type         string `bson:"message_type"`
	Payload      string `bson:"payload"`
	DatePart     int32  `bson:"date_part"`
	IntradayPart int32  `bson:"intraday_part"`
}

func toMessageDoc(m model.Message) messageDoc {
	return messageDoc{
		ID: m.ID, ClientID: m.ClientID, Sender: byte(m.Sender), Type: string(m.Type),
		Payload: m.Payload, DatePart: m.Time.DatePart, IntradayPart: m.Time.IntradayPart,
	}
}

func fromMessageDoc(d messageDoc) model.Message {
	return model.Message{
		ID: d.ID, ClientID: d.ClientID, Sender: model.MessageSender(d.Sender), Type: model.MessageType(d.Type),
		Payload: d.Payload, Time: clock.Time{DatePart: d.DatePart, IntradayPart: d.IntradayPart},
	}
}

// keyOf/idOf convert an action id to/from a BSON map key (Mongo map keys
// must be strings).
func keyOf(id uint64) string { return strconv.FormatUint(id, 10) }

func idOf(key string) uint64 {
	v, _ := strconv.ParseUint(key, 10, 64)
	return v
}
