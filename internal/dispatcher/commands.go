package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/model"
)

// handleDisplay implements the read-only "display" command (§4.7). displayType
// is one of the reserved keywords or an action name.
func (d *Dispatcher) handleDisplay(ctx context.Context, clientID uint64, displayType string) string {
	d.logMessage(ctx, clientID, model.MsgDisplay, displayType)

	switch displayType {
	case "portfolio":
		return d.displayPortfolio(ctx, clientID)
	case "pending_orders":
		return d.displayPendingOrders(ctx, clientID)
	case "completed_orders":
		return d.displayCompletedOrders(ctx, clientID)
	case "market":
		return d.displayMarket(ctx)
	default:
		action, err := d.store.GetActionByName(ctx, displayType)
		if err != nil {
			return fmt.Sprintf("Error: Display type '%s' not recognized, or action does not exist", displayType)
		}
		return d.displayAction(action)
	}
}

func (d *Dispatcher) displayPortfolio(ctx context.Context, clientID uint64) string {
	client, err := d.store.GetClient(ctx, clientID)
	if err != nil {
		return "Error: client does not exist"
	}
	if len(client.Portfolio) == 0 {
		return "Empty portfolio"
	}
	parts := make([]string, 0, len(client.Portfolio))
	for actionID, qty := range client.Portfolio {
		if qty == 0 {
			continue
		}
		name := d.actionName(ctx, actionID)
		parts = append(parts, fmt.Sprintf("%s:%d", name, qty))
	}
	if len(parts) == 0 {
		return "Empty portfolio"
	}
	return strings.Join(parts, ",")
}

func (d *Dispatcher) displayPendingOrders(ctx context.Context, clientID uint64) string {
	orders, err := d.store.ListClientPendingOrders(ctx, clientID)
	if err != nil || len(orders) == 0 {
		return "No pending orders"
	}
	return d.formatOrdersCSV(ctx, orders)
}

func (d *Dispatcher) displayCompletedOrders(ctx context.Context, clientID uint64) string {
	orders, err := d.store.ListCompletedOrders(ctx, clientID)
	if err != nil || len(orders) == 0 {
		return "No completed orders"
	}
	return d.formatOrdersCSV(ctx, orders)
}

// displayMarket formats "<market_value>;<orders_csv>;<actions_csv>" (§6):
// orders_csv concatenates BUY then SELL pending orders across every
// security, actions_csv lists every security's name/qty/last price/time.
func (d *Dispatcher) displayMarket(ctx context.Context) string {
	value, err := d.store.MarketValue(ctx)
	if err != nil {
		value = 0
	}

	var buys, sells []*model.Order
	pending, err := d.store.ListPendingOrders(ctx, 0)
	if err == nil {
		for _, o := range pending {
			if o.Side == model.Buy {
				buys = append(buys, o)
			} else {
				sells = append(sells, o)
			}
		}
	}
	orders := append(buys, sells...)
	ordersCSV := d.formatOrdersCSV(ctx, orders)
	if len(orders) == 0 {
		ordersCSV = ""
	}

	actions, err := d.store.ListActions(ctx)
	actionParts := make([]string, 0, len(actions))
	if err == nil {
		for _, a := range actions {
			var at clock.Time
			if len(a.History) > 0 {
				at = a.History[len(a.History)-1].Time
			}
			actionParts = append(actionParts, fmt.Sprintf("%s %d %.2f %s", a.Name, a.Quantity, a.LastPrice(), formatTime(at)))
		}
	}

	return fmt.Sprintf("%.2f;%s;%s", value, ordersCSV, strings.Join(actionParts, ","))
}

func (d *Dispatcher) displayAction(a *model.Security) string {
	var at clock.Time
	if len(a.History) > 0 {
		at = a.History[len(a.History)-1].Time
	}
	return fmt.Sprintf("%s %d %.2f %s", a.Name, a.Quantity, a.LastPrice(), formatTime(at))
}

// formatOrdersCSV renders each order as
// "date_time client_name side qty action_name trigger price lower upper expiry".
func (d *Dispatcher) formatOrdersCSV(ctx context.Context, orders []*model.Order) string {
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		clientName := d.clientName(ctx, o.ClientID)
		actionName := d.actionName(ctx, o.ActionID)
		parts = append(parts, fmt.Sprintf("%s %s %s %d %s %s %s %s %s %s",
			formatTime(o.OrderTime), clientName, o.Side.String(), o.Remaining, actionName,
			triggerName(o.Trigger), priceText(o.Price), priceText(o.LowerBand), priceText(o.UpperBand),
			formatTime(o.ExpiresAt)))
	}
	return strings.Join(parts, ",")
}

func (d *Dispatcher) clientName(ctx context.Context, id uint64) string {
	c, err := d.store.GetClient(ctx, id)
	if err != nil {
		return fmt.Sprintf("client#%d", id)
	}
	return c.Name
}

func (d *Dispatcher) actionName(ctx context.Context, id uint64) string {
	a, err := d.store.GetAction(ctx, id)
	if err != nil {
		return fmt.Sprintf("action#%d", id)
	}
	return a.Name
}

func triggerName(t model.Trigger) string { return t.String() }

func priceText(p model.Price) string {
	if p.IsMarket() {
		return "MARKET"
	}
	return strconv.FormatFloat(p.Value(), 'f', 2, 64)
}

func formatTime(t clock.Time) string {
	if t.DatePart == clock.MaxDate {
		return "never"
	}
	return t.ToTime().Format("2006-01-02 15:04:05")
}

// handleOrder implements the order-entry command (§4.7):
//
//	<id> <BUY|SELL> <qty> <action_id> <trigger> [price] [trigger_lower] [trigger_upper] [YYYY-MM-DD HH:MM:SS]
func (d *Dispatcher) handleOrder(ctx context.Context, clientID uint64, fields []string) string {
	if len(fields) < 5 {
		return "Error: order requires at least id side qty action_id trigger"
	}

	side := model.Buy
	if fields[1] == "SELL" {
		side = model.Sell
	}

	qty, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || qty <= 0 {
		return "Error: quantity must be a positive integer"
	}

	actionID, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return "Error: action_id must be an integer"
	}
	if _, err := d.store.GetAction(ctx, actionID); err != nil {
		return "Error: action does not exist"
	}

	trigger, ok := model.ParseTrigger(fields[4])
	if !ok {
		return fmt.Sprintf("Error: trigger type '%s' not recognized", fields[4])
	}

	rest := fields[5:]
	price, lower, upper, consumed, errText := parseTriggerFields(trigger, rest)
	if errText != "" {
		return errText
	}

	validity := clock.NeverExpires()
	if len(rest) >= consumed+2 {
		if ts, err := time.Parse("2006-01-02 15:04:05", rest[consumed]+" "+rest[consumed+1]); err == nil {
			validity = clock.From(ts)
		}
	}

	client, err := d.store.GetClient(ctx, clientID)
	if err != nil {
		return "Error: client does not exist"
	}

	if side == model.Buy && !price.IsMarket() {
		cost := float64(qty) * price.Value()
		if client.Balance < cost {
			return "Error: insufficient funds"
		}
	}
	if side == model.Sell {
		if client.Holding(actionID) < qty {
			return "Error: insufficient shares"
		}
	}

	order := &model.Order{
		ID: d.orderIDs.Next(), ClientID: clientID, ActionID: actionID,
		Side: side, Trigger: trigger, Price: price, LowerBand: lower, UpperBand: upper,
		Quantity: qty, Remaining: qty, OrderTime: d.now(), ExpiresAt: validity,
		Status: model.StatusPending,
	}

	confirmation := fmt.Sprintf(
		"Order created with ID: %d for client %d to %s %d actions of %d at the price of %s$ at time %s with trigger type %s and trigger price lower %s and trigger price upper %s until validity date %s",
		order.ID, clientID, side.String(), qty, actionID, priceText(price), formatTime(order.OrderTime),
		trigger.String(), priceText(lower), priceText(upper), formatTime(validity))

	d.logMessage(ctx, clientID, model.MsgOrder, confirmation)

	if trigger == model.TriggerMarket {
		d.engine.Book(actionID).Add(order)
		if d.session.IsContinuousActive() {
			go d.triggerMatchAfterDelay(ctx, actionID)
		}
		return confirmation
	}

	if err := d.store.InsertPendingOrder(ctx, order); err != nil {
		return "Error: could not persist order"
	}
	return confirmation
}

// triggerMatchAfterDelay sleeps for the configured simulated venue latency
// before attempting a single-flight continuous match, matching the
// reference's "processing delay before matching" behavior (§4.7, §5).
func (d *Dispatcher) triggerMatchAfterDelay(ctx context.Context, actionID uint64) {
	if d.processingDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.processingDelay):
		}
	}
	if _, err := d.engine.TriggerContinuous(ctx, actionID); err != nil {
		fmt.Printf("dispatcher: continuous match error for action %d: %v\n", actionID, err)
	}
}

// parseTriggerFields validates and defaults price/lower/upper per trigger
// kind (§4.7): MARKET consumes 0 fields, LIMIT and STOP each consume 2
// (price+lower, price+upper respectively), LIMIT_STOP consumes 3
// (price+lower+upper). consumed reports exactly how many leading elements
// of rest were read, so the caller can find the trailing optional validity
// date immediately after them regardless of trigger kind.
func parseTriggerFields(trigger model.Trigger, rest []string) (price, lower, upper model.Price, consumed int, errText string) {
	switch trigger {
	case model.TriggerMarket:
		return model.MarketPrice(), model.LimitPrice(0), model.MarketPrice(), 0, ""

	case model.TriggerLimit:
		if len(rest) < 1 {
			return price, lower, upper, 0, "Error: Price must be greater than 0 for trigger type LIMIT"
		}
		p, err := strconv.ParseFloat(rest[0], 64)
		if err != nil || p <= 0 {
			return price, lower, upper, 0, "Error: Price must be greater than 0 for trigger type LIMIT"
		}
		if len(rest) < 2 {
			return price, lower, upper, 0, "Error: Trigger price lower must be greater than 0 for trigger type LIMIT"
		}
		lo, err := strconv.ParseFloat(rest[1], 64)
		if err != nil || lo <= 0 {
			return price, lower, upper, 0, "Error: Trigger price lower must be greater than 0 for trigger type LIMIT"
		}
		return model.LimitPrice(p), model.LimitPrice(lo), model.MarketPrice(), 2, ""

	case model.TriggerStop:
		if len(rest) < 1 {
			return price, lower, upper, 0, "Error: Price must be greater than 0 for trigger type STOP"
		}
		p, err := strconv.ParseFloat(rest[0], 64)
		if err != nil || p <= 0 {
			return price, lower, upper, 0, "Error: Price must be greater than 0 for trigger type STOP"
		}
		if len(rest) < 2 {
			return price, lower, upper, 0, "Error: Trigger price upper must be greater than 0 for trigger type STOP"
		}
		up, err := strconv.ParseFloat(rest[1], 64)
		if err != nil || up <= 0 {
			return price, lower, upper, 0, "Error: Trigger price upper must be greater than 0 for trigger type STOP"
		}
		return model.LimitPrice(p), model.LimitPrice(0), model.LimitPrice(up), 2, ""

	case model.TriggerLimitStop:
		if len(rest) < 3 {
			return price, lower, upper, 0, "Error: Price, trigger price lower and trigger price upper must all be greater than 0 for trigger type LIMIT_STOP"
		}
		p, err1 := strconv.ParseFloat(rest[0], 64)
		lo, err2 := strconv.ParseFloat(rest[1], 64)
		up, err3 := strconv.ParseFloat(rest[2], 64)
		if err1 != nil || err2 != nil || err3 != nil || p <= 0 || lo <= 0 || up <= 0 {
			return price, lower, upper, 0, "Error: Price, trigger price lower and trigger price upper must all be greater than 0 for trigger type LIMIT_STOP"
		}
		return model.LimitPrice(p), model.LimitPrice(lo), model.LimitPrice(up), 3, ""
	}
	return price, lower, upper, 0, "Error: trigger type not recognized"
}
