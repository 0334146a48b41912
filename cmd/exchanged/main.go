// Command exchanged is the exchange server process. It supports four
// subcommands — init, reset, reset_prices, play — matching the reference
// deployment's administrative CLI (§6). Grounded in the reference decoder
// and feedsim commands' flag.Parse-then-dispatch structure
// (cmd/decoder/main.go, cmd/feedsim/main.go), re-targeted from a
// feed-replay tool to the exchange's own process lifecycle.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/stockexchange/matchd/internal/archive"
	"github.com/stockexchange/matchd/internal/clock"
	"github.com/stockexchange/matchd/internal/config"
	"github.com/stockexchange/matchd/internal/crypto"
	"github.com/stockexchange/matchd/internal/dispatcher"
	"github.com/stockexchange/matchd/internal/matching"
	"github.com/stockexchange/matchd/internal/model"
	"github.com/stockexchange/matchd/internal/session"
	"github.com/stockexchange/matchd/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: exchanged <init|reset|reset_prices|play> [flags]")
		os.Exit(1)
	}
	subcommand := os.Args[1]
	os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
	cfg := config.Load()

	ctx := context.Background()
	st, err := store.New(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("exchanged: connect to store: %v", err)
	}
	defer st.Close(ctx)

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("exchanged: migrate: %v", err)
	}

	var runErr error
	switch subcommand {
	case "init":
		runErr = runInit(ctx, st, cfg)
	case "reset":
		runErr = runReset(ctx, st, cfg)
	case "reset_prices":
		runErr = st.ResetPrices(ctx)
	case "play":
		runErr = runPlay(ctx, st, cfg)
	default:
		fmt.Fprintf(os.Stderr, "exchanged: unknown subcommand %q\n", subcommand)
		os.Exit(1)
	}

	if runErr != nil {
		log.Fatalf("exchanged: %s: %v", subcommand, runErr)
	}
}

// runInit seeds the two reference clients and two reference securities
// (§6): action 1 "CAC40" qty 20 price 10.0, action 2 "SP500" qty 10 price
// 20.0; client 1 "Client1"/"123"/1000.0 with no portfolio, client 2
// "Client2"/"123"/100.0 with portfolio {1:20, 2:10}.
func runInit(ctx context.Context, st *store.Store, cfg *config.Config) error {
	km, err := st.GetOrGenerateKeys(ctx, cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("generate encryption keys: %w", err)
	}
	cipher, err := crypto.NewCipher(km)
	if err != nil {
		return fmt.Errorf("build cipher: %w", err)
	}

	now := clock.Now()
	if err := st.UpsertAction(ctx, 1, "CAC40", 20, 10.0, now); err != nil {
		return fmt.Errorf("seed action CAC40: %w", err)
	}
	if err := st.UpsertAction(ctx, 2, "SP500", 10, 20.0, now); err != nil {
		return fmt.Errorf("seed action SP500: %w", err)
	}

	client1 := &model.Client{ID: 1, Name: "Client1", EncryptedPassword: cipher.Encrypt("123"), Balance: 1000.0}
	client2 := &model.Client{
		ID: 2, Name: "Client2", EncryptedPassword: cipher.Encrypt("123"), Balance: 100.0,
		Portfolio: map[uint64]int64{1: 20, 2: 10},
	}
	if err := st.UpsertClient(ctx, client1); err != nil {
		return fmt.Errorf("seed client1: %w", err)
	}
	if err := st.UpsertClient(ctx, client2); err != nil {
		return fmt.Errorf("seed client2: %w", err)
	}

	if err := st.SaveCounter(ctx, store.CounterActions, 2); err != nil {
		return err
	}
	if err := st.SaveCounter(ctx, store.CounterClients, 2); err != nil {
		return err
	}

	log.Printf("exchanged: init complete (2 clients, 2 actions seeded)")
	return nil
}

func runReset(ctx context.Context, st *store.Store, cfg *config.Config) error {
	if err := st.Reset(ctx); err != nil {
		return err
	}
	if _, err := st.RegenerateKeys(ctx, cfg.Passphrase); err != nil {
		return err
	}
	log.Printf("exchanged: reset complete")
	return nil
}

// runPlay starts the server, runs exactly one trading session end to end,
// runs the shutdown audit, and exits cleanly (§4.6, §4.9) — the reference
// deployment's one-session-per-process lifecycle.
func runPlay(ctx context.Context, st *store.Store, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("exchanged: shutdown signal received")
		cancel()
	}()

	orderIDs := clock.NewAllocator(0)
	msgIDs := clock.NewAllocator(0)
	if v, err := st.LoadCounter(ctx, store.CounterOrders); err == nil {
		orderIDs.Restore(v)
	}
	if v, err := st.LoadCounter(ctx, store.CounterMsgs); err == nil {
		msgIDs.Restore(v)
	}

	km, err := st.GetOrGenerateKeys(ctx, cfg.Passphrase)
	if err != nil {
		return fmt.Errorf("load encryption keys: %w", err)
	}
	cipher, err := crypto.NewCipher(km)
	if err != nil {
		return fmt.Errorf("build cipher: %w", err)
	}

	engine := matching.New(st, orderIDs, msgIDs, clock.Now)
	actions, err := st.ListActions(ctx)
	if err != nil {
		return fmt.Errorf("list actions: %w", err)
	}
	for _, a := range actions {
		orders, err := st.ListPendingOrders(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("load pending orders for action %d: %w", a.ID, err)
		}
		b := engine.Book(a.ID)
		for _, o := range orders {
			b.Add(o)
		}
	}

	durations := session.Durations{
		PreOpen: cfg.PreOpen(), Open: cfg.Open(), Continuous: cfg.Continuous(),
		Loop: cfg.Loop(), PreClose: cfg.PreClose(),
	}
	controller := session.New(engine, st, msgIDs, durations)

	disp := dispatcher.New(st, engine, controller, cipher, orderIDs, msgIDs, clock.Now, cfg.ProcessingDelay())

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	log.Printf("exchanged: listening on %s", ln.Addr())

	if cfg.ArchiveEnabled() {
		uploader, err := archive.NewS3Uploader(ctx, cfg.S3Region)
		if err != nil {
			log.Printf("exchanged: archive disabled, could not build uploader: %v", err)
		} else {
			job := archive.New(st.DB(), uploader, cfg.S3Bucket, cfg.S3Prefix, cfg.ArchiveIntervalHours, cfg.ArchiveAfterHours)
			go job.Run(ctx)
		}
	}

	go disp.Serve(ctx, ln)

	launchTime := clock.Now()
	controller.Run(ctx)
	ln.Close()

	if err := st.SaveCounter(ctx, store.CounterOrders, orderIDs.Current()); err != nil {
		log.Printf("exchanged: save order counter: %v", err)
	}
	if err := st.SaveCounter(ctx, store.CounterMsgs, msgIDs.Current()); err != nil {
		log.Printf("exchanged: save message counter: %v", err)
	}

	runShutdownAudit(context.Background(), st, msgIDs, launchTime)
	log.Printf("exchanged: session closed cleanly")
	return nil
}

// runShutdownAudit balances the message log against unmatched
// CLIENT_CONNECTED entries, then dumps the full log to stdout in
// chronological order (§4.9). Uses a background context since the serving
// context may already be cancelled by the time this runs.
func runShutdownAudit(ctx context.Context, st *store.Store, msgIDs *clock.Allocator, launchTime clock.Time) {
	unbalanced, err := st.ConnectedClientsSince(ctx, launchTime)
	if err != nil {
		log.Printf("exchanged: shutdown audit: list unbalanced clients: %v", err)
		return
	}
	now := clock.Now()
	for _, clientID := range unbalanced {
		msg := model.Message{
			ID: msgIDs.Next(), ClientID: clientID, Sender: model.SenderServer,
			Type: model.MsgClientDisconnected, Payload: "synthesized at shutdown", Time: now,
		}
		if err := st.AppendMessage(ctx, msg); err != nil {
			log.Printf("exchanged: shutdown audit: append synthetic disconnect for client %d: %v", clientID, err)
		}
	}

	shutdownMsg := model.Message{ID: msgIDs.Next(), Sender: model.SenderServer, Type: model.MsgServerShutdown, Time: now}
	if err := st.AppendMessage(ctx, shutdownMsg); err != nil {
		log.Printf("exchanged: shutdown audit: append shutdown message: %v", err)
	}

	all, err := st.ListAllMessages(ctx)
	if err != nil {
		log.Printf("exchanged: shutdown audit: list all messages: %v", err)
		return
	}
	for _, m := range all {
		fmt.Printf("%d\t%d\t%s\t%s\t%s\n", m.Time.DatePart, m.Time.IntradayPart, m.Type, fmt.Sprint(m.ClientID), m.Payload)
	}
}
