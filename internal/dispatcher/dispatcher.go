// Package dispatcher implements the per-connection request/response loop:
// parsing whitespace-delimited text commands, validating them, and routing
// accepted requests into the store and the matching engine. Grounded in the
// reference session handler's per-client read/dispatch loop (session/handler.go,
// session/client.go), re-targeted from a websocket push-feed connection to a
// plain TCP request/response connection, since the specification's wire
// protocol carries no multi-subscriber market-data fan-out (see Non-goals).
package dispatcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/stockexchange/matchd/internal/book"
	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/crypto"
	"github.com/stockexchange/matchd/internal/model"
	"github.com/stockexchange/matchd/internal/store"
)

// maxFrame is the largest single text frame the wire protocol allows (§6).
const maxFrame = 1024

// Store is the narrow persistence capability the dispatcher depends on.
type Store interface {
	GetClient(ctx context.Context, id uint64) (*model.Client, error)
	FindClientByNameAndPassword(ctx context.Context, name string, encryptedPassword []byte) (*model.Client, error)
	GetAction(ctx context.Context, id uint64) (*model.Security, error)
	GetActionByName(ctx context.Context, name string) (*model.Security, error)
	ListActions(ctx context.Context) ([]*model.Security, error)
	ListClientPendingOrders(ctx context.Context, clientID uint64) ([]*model.Order, error)
	ListCompletedOrders(ctx context.Context, clientID uint64) ([]*model.Order, error)
	ListPendingOrders(ctx context.Context, actionID uint64) ([]*model.Order, error)
	AdjustBalance(ctx context.Context, clientID uint64, delta float64) error
	InsertPendingOrder(ctx context.Context, o *model.Order) error
	AppendMessage(ctx context.Context, m model.Message) error
	MarketValue(ctx context.Context) (float64, error)
}

// Engine is the narrow matching capability the dispatcher depends on: the
// live book for a security (so MARKET orders can be appended during
// Continuous) and the single-flight match trigger.
type Engine interface {
	Book(actionID uint64) *book.Book
	TriggerContinuous(ctx context.Context, actionID uint64) (int, error)
}

// SessionClock answers whether the continuous phase is presently active, so
// the dispatcher knows whether a MARKET arrival should attempt a match.
type SessionClock interface {
	IsContinuousActive() bool
}

// Dispatcher owns the shared capabilities every connection handler needs.
type Dispatcher struct {
	store           Store
	engine          Engine
	session         SessionClock
	cipher          *crypto.Cipher
	orderIDs        *clock.Allocator
	msgIDs          *clock.Allocator
	now             func() clock.Time
	processingDelay time.Duration
}

// New creates a Dispatcher.
func New(store Store, engine Engine, sess SessionClock, cipher *crypto.Cipher, orderIDs, msgIDs *clock.Allocator, now func() clock.Time, processingDelay time.Duration) *Dispatcher {
	return &Dispatcher{
		store: store, engine: engine, session: sess, cipher: cipher,
		orderIDs: orderIDs, msgIDs: msgIDs, now: now, processingDelay: processingDelay,
	}
}

// Serve accepts connections on ln until ctx is cancelled, handling each on
// its own goroutine.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("dispatcher: accept error: %v", err)
			continue
		}
		go d.handleConn(ctx, conn)
	}
}

// handleConn runs the per-connection loop: authenticate, then serve
// commands until exit, error, or shutdown.
func (d *Dispatcher) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxFrame), maxFrame)

	clientID, ok := d.authenticate(ctx, conn, scanner)
	if !ok {
		return
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, shouldClose := d.dispatch(ctx, clientID, line)
		if reply != "" {
			fmt.Fprintln(conn, reply)
		}
		if shouldClose {
			return
		}
	}
}

// authenticate runs the auth handshake. A connection that never sends an
// auth request, or that fails it, is closed without entering the command
// loop.
func (d *Dispatcher) authenticate(ctx context.Context, conn net.Conn, scanner *bufio.Scanner) (uint64, bool) {
	if !scanner.Scan() {
		return 0, false
	}
	line := strings.TrimSpace(scanner.Text())

	const prefix = "Authentification Request: "
	if !strings.HasPrefix(line, prefix) {
		fmt.Fprintln(conn, "AUTHENTIFICATION_FAILURE_INPUT")
		return 0, false
	}
	fields := strings.Fields(strings.TrimPrefix(line, prefix))
	if len(fields) != 2 {
		fmt.Fprintln(conn, "AUTHENTIFICATION_FAILURE_INPUT")
		return 0, false
	}
	name, password := fields[0], fields[1]

	encrypted := d.cipher.Encrypt(password)
	client, err := d.store.FindClientByNameAndPassword(ctx, name, encrypted)
	if err != nil {
		reason := "AUTHENTIFICATION_FAILURE_PASSWORD"
		if errors.Is(err, store.ErrUnknownClient) {
			reason = "AUTHENTIFICATION_FAILURE_USERNAME"
		}
		fmt.Fprintln(conn, reason)
		d.logMessage(ctx, 0, model.MsgAuthFailure, name)
		return 0, false
	}

	fmt.Fprintf(conn, "AUTHENTIFICATION_SUCCESS %d\n", client.ID)
	d.logMessage(ctx, client.ID, model.MsgAuthSuccess, name)
	d.logMessage(ctx, client.ID, model.MsgClientConnected, "")
	return client.ID, true
}

// dispatch parses and routes one command line for an already-authenticated
// connection. Returns the text to write back (possibly empty) and whether
// the connection should be closed afterward.
func (d *Dispatcher) dispatch(ctx context.Context, clientID uint64, line string) (reply string, shouldClose bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "Error: malformed command", false
	}

	// Balance adjustment is "<id> <amount> {deposit|withdraw}" — the
	// keyword lands in fields[2], unlike every other command where it is
	// fields[1] — so it is checked ahead of the fields[1] switch.
	if len(fields) >= 3 && (fields[2] == "deposit" || fields[2] == "withdraw") {
		return d.handleBalanceAdjust(ctx, clientID, fields[2], fields[1]), false
	}

	switch fields[1] {
	case "CLIENT_CONNECTED":
		d.logMessage(ctx, clientID, model.MsgClientConnected, "")
		return "", false

	case "exit":
		d.logMessage(ctx, clientID, model.MsgClientDisconnected, "")
		return "", true

	case "display":
		if len(fields) < 3 {
			return "Error: display requires a type", false
		}
		return d.handleDisplay(ctx, clientID, strings.Join(fields[2:], " ")), false

	case "BUY", "SELL":
		return d.handleOrder(ctx, clientID, fields), false

	default:
		return "Error: command not recognized", false
	}
}

func (d *Dispatcher) handleBalanceAdjust(ctx context.Context, clientID uint64, kind, amountField string) string {
	amount, err := strconv.ParseFloat(amountField, 64)
	if err != nil || amount <= 0 {
		return "Error: amount must be a positive number"
	}

	delta := amount
	msgType := model.MsgDeposit
	if kind == "withdraw" {
		client, err := d.store.GetClient(ctx, clientID)
		if err != nil {
			return "Error: client does not exist"
		}
		if client.Balance < amount {
			return "Error: insufficient balance for withdrawal"
		}
		delta = -amount
		msgType = model.MsgWithdraw
	}

	if err := d.store.AdjustBalance(ctx, clientID, delta); err != nil {
		return "Error: could not adjust balance"
	}
	d.logMessage(ctx, clientID, msgType, amountField)
	verb := "Deposit"
	if kind == "withdraw" {
		verb = "Withdraw"
	}
	return fmt.Sprintf("%s of %.2f$ accepted for client %d", verb, amount, clientID)
}

func (d *Dispatcher) logMessage(ctx context.Context, clientID uint64, t model.MessageType, payload string) {
	msg := model.Message{
		ID: d.msgIDs.Next(), ClientID: clientID, Sender: model.SenderClient,
		Type: t, Payload: payload, Time: d.now(),
	}
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		log.Printf("dispatcher: failed to log %s for client %d: %v", t, clientID, err)
	}
}
