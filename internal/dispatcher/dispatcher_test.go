package dispatcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stockexchange/matchd/internal/book"
	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/crypto"
	"github.com/stockexchange/matchd/internal/model"
	"github.com/stockexchange/matchd/internal/store"
)

type fakeStore struct {
	clients map[uint64]*model.Client
	actions map[uint64]*model.Security
	pending []*model.Order
	msgs    []model.Message
}

var errNotFound = errors.New("not found")

func newFakeStore() *fakeStore {
	return &fakeStore{clients: map[uint64]*model.Client{}, actions: map[uint64]*model.Security{}}
}

func (f *fakeStore) GetClient(ctx context.Context, id uint64) (*model.Client, error) {
	c, ok := f.clients[id]
	if !ok {
		return nil, errNotFound
	}
	return c, nil
}

func (f *fakeStore) FindClientByNameAndPassword(ctx context.Context, name string, encryptedPassword []byte) (*model.Client, error) {
	for _, c := range f.clients {
		if c.Name != name {
			continue
		}
		if len(c.EncryptedPassword) != len(encryptedPassword) {
			return nil, store.ErrWrongPassword
		}
		for i := range c.EncryptedPassword {
			if c.EncryptedPassword[i] != encryptedPassword[i] {
				return nil, store.ErrWrongPassword
			}
		}
		return c, nil
	}
	return nil, store.ErrUnknownClient
}

func (f *fakeStore) GetAction(ctx context.Context, id uint64) (*model.Security, error) {
	a, ok := f.actions[id]
	if !ok {
		return nil, errNotFound
	}
	return a, nil
}

func (f *fakeStore) GetActionByName(ctx context.Context, name string) (*model.Security, error) {
	for _, a := range f.actions {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, errNotFound
}

func (f *fakeStore) ListActions(ctx context.Context) ([]*model.Security, error) {
	var out []*model.Security
	for _, a := range f.actions {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) ListClientPendingOrders(ctx context.Context, clientID uint64) ([]*model.Order, error) {
	var out []*model.Order
	for _, o := range f.pending {
		if o.ClientID == clientID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCompletedOrders(ctx context.Context, clientID uint64) ([]*model.Order, error) {
	return nil, nil
}

func (f *fakeStore) ListPendingOrders(ctx context.Context, actionID uint64) ([]*model.Order, error) {
	return f.pending, nil
}

func (f *fakeStore) AdjustBalance(ctx context.Context, clientID uint64, delta float64) error {
	c, ok := f.clients[clientID]
	if !ok {
		return errNotFound
	}
	c.Balance += delta
	return nil
}

func (f *fakeStore) InsertPendingOrder(ctx context.Context, o *model.Order) error {
	f.pending = append(f.pending, o)
	return nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, m model.Message) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeStore) MarketValue(ctx context.Context) (float64, error) { return 0, nil }

type fakeEngine struct {
	books map[uint64]*book.Book
}

func (e *fakeEngine) Book(actionID uint64) *book.Book {
	if e.books == nil {
		e.books = map[uint64]*book.Book{}
	}
	b, ok := e.books[actionID]
	if !ok {
		b = book.New(actionID)
		e.books[actionID] = b
	}
	return b
}

func (e *fakeEngine) TriggerContinuous(ctx context.Context, actionID uint64) (int, error) {
	return 0, nil
}

type fakeSession struct{ active bool }

func (s fakeSession) IsContinuousActive() bool { return s.active }

func newTestDispatcher(st *fakeStore) *Dispatcher {
	km, _ := crypto.Generate("test")
	cipher, _ := crypto.NewCipher(km)
	fixedNow := clock.Time{DatePart: 1, IntradayPart: 0}
	return New(st, &fakeEngine{}, fakeSession{}, cipher, clock.NewAllocator(100), clock.NewAllocator(200),
		func() clock.Time { return fixedNow }, 0)
}

func TestHandleOrderLimitBuyRejectsInsufficientFunds(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 10}
	st.actions[1] = &model.Security{ID: 1, Name: "CAC40", Quantity: 20}
	d := newTestDispatcher(st)

	reply := d.handleOrder(context.Background(), 1, []string{"1", "BUY", "5", "1", "LIMIT", "100", "1"})
	if reply != "Error: insufficient funds" {
		t.Fatalf("reply = %q, want insufficient funds error", reply)
	}
}

func TestHandleOrderLimitBuyAccepted(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 1000}
	st.actions[1] = &model.Security{ID: 1, Name: "CAC40", Quantity: 20}
	d := newTestDispatcher(st)

	reply := d.handleOrder(context.Background(), 1, []string{"1", "BUY", "5", "1", "LIMIT", "10", "1"})
	if len(st.pending) != 1 {
		t.Fatalf("pending orders = %d, want 1", len(st.pending))
	}
	if st.pending[0].Quantity != 5 {
		t.Fatalf("order quantity = %d, want 5", st.pending[0].Quantity)
	}
	wantPrefix := "Order created with ID:"
	if len(reply) < len(wantPrefix) || reply[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("reply = %q, want confirmation text", reply)
	}
}

func TestHandleOrderLimitMissingPriceRejected(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 1000}
	st.actions[1] = &model.Security{ID: 1, Name: "CAC40", Quantity: 20}
	d := newTestDispatcher(st)

	reply := d.handleOrder(context.Background(), 1, []string{"1", "BUY", "5", "1", "LIMIT"})
	if reply != "Error: Price must be greater than 0 for trigger type LIMIT" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestHandleOrderStopAcceptsExactlyTwoFields(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 1000}
	st.actions[1] = &model.Security{ID: 1, Name: "CAC40", Quantity: 20}
	d := newTestDispatcher(st)

	reply := d.handleOrder(context.Background(), 1, []string{"1", "BUY", "5", "1", "STOP", "10", "12"})
	if len(st.pending) != 1 {
		t.Fatalf("pending orders = %d, want 1 (reply: %q)", len(st.pending), reply)
	}
	got := st.pending[0]
	if got.Price.Value() != 10 || got.UpperBand.Value() != 12 {
		t.Fatalf("order price=%v upper=%v, want price=10 upper=12", got.Price, got.UpperBand)
	}
}

func TestHandleOrderStopMissingUpperRejected(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 1000}
	st.actions[1] = &model.Security{ID: 1, Name: "CAC40", Quantity: 20}
	d := newTestDispatcher(st)

	reply := d.handleOrder(context.Background(), 1, []string{"1", "BUY", "5", "1", "STOP", "10"})
	if reply != "Error: Trigger price upper must be greater than 0 for trigger type STOP" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestHandleOrderStopWithValidityDateSetsExpiry(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 1000}
	st.actions[1] = &model.Security{ID: 1, Name: "CAC40", Quantity: 20}
	d := newTestDispatcher(st)

	reply := d.handleOrder(context.Background(), 1,
		[]string{"1", "BUY", "5", "1", "STOP", "10", "12", "2030-01-15", "09:00:00"})
	if len(st.pending) != 1 {
		t.Fatalf("pending orders = %d, want 1 (reply: %q)", len(st.pending), reply)
	}
	if st.pending[0].ExpiresAt == clock.NeverExpires() {
		t.Fatal("expected a validity date to be parsed, got NeverExpires")
	}
}

func TestHandleOrderLimitStopWithValidityDateSetsExpiry(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 1000}
	st.actions[1] = &model.Security{ID: 1, Name: "CAC40", Quantity: 20}
	d := newTestDispatcher(st)

	reply := d.handleOrder(context.Background(), 1,
		[]string{"1", "BUY", "5", "1", "LIMIT_STOP", "10", "8", "12", "2030-01-15", "09:00:00"})
	if len(st.pending) != 1 {
		t.Fatalf("pending orders = %d, want 1 (reply: %q)", len(st.pending), reply)
	}
	if st.pending[0].ExpiresAt == clock.NeverExpires() {
		t.Fatal("expected a validity date to be parsed, got NeverExpires")
	}
}

func TestHandleOrderSellRejectsInsufficientShares(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 1000, Portfolio: map[uint64]int64{1: 2}}
	st.actions[1] = &model.Security{ID: 1, Name: "CAC40", Quantity: 20}
	d := newTestDispatcher(st)

	reply := d.handleOrder(context.Background(), 1, []string{"1", "SELL", "5", "1", "LIMIT", "10", "1"})
	if reply != "Error: insufficient shares" {
		t.Fatalf("reply = %q, want insufficient shares error", reply)
	}
}

func TestHandleOrderMarketAddsToBook(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 1000}
	st.actions[1] = &model.Security{ID: 1, Name: "CAC40", Quantity: 20}
	d := newTestDispatcher(st)

	d.handleOrder(context.Background(), 1, []string{"1", "BUY", "5", "1", "MARKET"})
	if d.engine.(*fakeEngine).Book(1).BuyCount() != 1 {
		t.Fatal("MARKET order should be added to the live book")
	}
	if len(st.pending) != 0 {
		t.Fatal("MARKET order should not be persisted as a pending row")
	}
}

func TestHandleBalanceAdjustDepositAndWithdraw(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 100}
	d := newTestDispatcher(st)

	d.handleBalanceAdjust(context.Background(), 1, "deposit", "50")
	if st.clients[1].Balance != 150 {
		t.Fatalf("balance after deposit = %f, want 150", st.clients[1].Balance)
	}

	reply := d.handleBalanceAdjust(context.Background(), 1, "withdraw", "500")
	if reply != "Error: insufficient balance for withdrawal" {
		t.Fatalf("reply = %q", reply)
	}
	if st.clients[1].Balance != 150 {
		t.Fatal("balance should be unchanged after a rejected withdrawal")
	}
}

func TestDisplayPortfolioEmpty(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A", Balance: 0}
	d := newTestDispatcher(st)

	reply := d.handleDisplay(context.Background(), 1, "portfolio")
	if reply != "Empty portfolio" {
		t.Fatalf("reply = %q, want Empty portfolio", reply)
	}
}

func TestDisplayUnknownTypeError(t *testing.T) {
	st := newFakeStore()
	st.clients[1] = &model.Client{ID: 1, Name: "A"}
	d := newTestDispatcher(st)

	reply := d.handleDisplay(context.Background(), 1, "nonsense")
	want := "Error: Display type 'nonsense' not recognized, or action does not exist"
	if reply != want {
		t.Fatalf("reply = %q, want %q", reply, want)
	}
}

// authenticateOver drives d.authenticate over an in-process net.Pipe,
// writing the request line and returning the server's single reply line.
func authenticateOver(t *testing.T, d *Dispatcher, request string) string {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		scanner := bufio.NewScanner(server)
		scanner.Buffer(make([]byte, maxFrame), maxFrame)
		d.authenticate(context.Background(), server, scanner)
		server.Close()
	}()

	go func() {
		fmt.Fprintln(client, request)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return strings.TrimSpace(line)
}

func TestAuthenticateUnknownUsernameFails(t *testing.T) {
	st := newFakeStore()
	d := newTestDispatcher(st)

	reply := authenticateOver(t, d, "Authentification Request: ghost secret")
	if reply != "AUTHENTIFICATION_FAILURE_USERNAME" {
		t.Fatalf("reply = %q, want AUTHENTIFICATION_FAILURE_USERNAME", reply)
	}
}

func TestAuthenticateWrongPasswordFails(t *testing.T) {
	st := newFakeStore()
	d := newTestDispatcher(st)
	st.clients[1] = &model.Client{ID: 1, Name: "Client1", EncryptedPassword: d.cipher.Encrypt("correct")}

	reply := authenticateOver(t, d, "Authentification Request: Client1 wrong")
	if reply != "AUTHENTIFICATION_FAILURE_PASSWORD" {
		t.Fatalf("reply = %q, want AUTHENTIFICATION_FAILURE_PASSWORD", reply)
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	st := newFakeStore()
	d := newTestDispatcher(st)
	st.clients[1] = &model.Client{ID: 1, Name: "Client1", EncryptedPassword: d.cipher.Encrypt("correct")}

	reply := authenticateOver(t, d, "Authentification Request: Client1 correct")
	if reply != "AUTHENTIFICATION_SUCCESS 1" {
		t.Fatalf("reply = %q, want AUTHENTIFICATION_SUCCESS 1", reply)
	}
}
