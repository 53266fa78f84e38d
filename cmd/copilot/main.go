// Command copilot runs the long-running trading co-pilot service: the
// feed gateway, symbol state store, bar aggregator, alert screener, both
// classifier engines, the trade command executor with its scale workers,
// the evaluation recorder, and the outbound HTTP/WebSocket transport, all
// wired onto one event bus. Grounded on the teacher's main.go, which wires
// the same shape of subsystem (feed -> analyzer -> signal engines ->
// notification/push -> HTTP) directly in func main rather than through a
// dependency-injection framework.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tradecopilot/internal/auth"
	"tradecopilot/internal/bars"
	"tradecopilot/internal/classifier/momo"
	"tradecopilot/internal/classifier/murphy"
	"tradecopilot/internal/config"
	"tradecopilot/internal/eval"
	"tradecopilot/internal/eventbus"
	"tradecopilot/internal/feed"
	"tradecopilot/internal/notify"
	"tradecopilot/internal/push"
	"tradecopilot/internal/replay"
	"tradecopilot/internal/screener"
	"tradecopilot/internal/state"
	"tradecopilot/internal/storage"
	"tradecopilot/internal/trade/executor"
	"tradecopilot/internal/trade/ledger"
	"tradecopilot/internal/trade/registry"
	"tradecopilot/internal/trade/scale"
	"tradecopilot/internal/transport"
	"tradecopilot/internal/types"
)

func main() {
	cfg := config.Load()

	db, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("copilot: failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New(256)

	stateStore := state.New(cfg.TierFlushSeconds, db)
	seeded, err := db.SeedYesterdayCloses(ctx)
	if err != nil {
		log.Printf("copilot: seed yesterday closes failed, starting cold: %v", err)
	}
	for symbol, close := range seeded {
		stateStore.SeedYesterdayClose(symbol, close)
	}

	aggregator := bars.New(bus, db, string(cfg.DataFeedSchema))

	sc := screener.New(bus, cfg.AlertThresholdPct, types.AlertPctFromYesterday, types.AlertPctFromOpen, types.AlertPctFrom15m)
	alertSub := bus.Subscribe(eventbus.TopicAlert)

	notifier := notify.New(cfg.TelegramBotToken, cfg.TelegramChatFile)
	pusher := push.New(cfg.FirebaseCredentialsFile)
	verifier := auth.New(cfg.FirebaseCredentialsFile)

	go func() {
		for evt := range alertSub {
			alert, ok := evt.Payload.(types.Alert)
			if !ok {
				continue
			}
			if err := db.SaveAlert(alert); err != nil {
				log.Printf("copilot: save alert error: %v", err)
			}
			notifier.NotifyAlert(alert)
			pusher.NotifyAlert(alert)
		}
	}()

	classifiers := newClassifierRouter(cfg)

	evaluator := eval.New(stateStore, db, cfg.EvalMoveThreshold, classifiers)

	reg := registry.New()
	if commands, err := db.LoadCommands(ctx); err != nil {
		log.Printf("copilot: load commands failed, registry empty: %v", err)
	} else {
		reg.Load(commands)
	}

	led := ledger.New(db)
	scaleMgr := scale.New(led, stateStore, bus, toScaleSpeeds(cfg.ScaleSpeeds))
	exec := executor.New(reg, led, stateStore, bus, scaleMgr)

	replayMgr := replay.NewManager(db, cfg.ReplayDefaultSpeed)

	gw := feed.New(cfg.FeedWSURL, string(cfg.DataFeedSchema), stateStore, aggregator)
	gw.OnFatal(func(gerr *feed.GatewayError) {
		notifier.Notify("feed gateway fatal error: " + gerr.Error())
	})

	srv := transport.New(bus, replayMgr, led, exec, stateStore, db, db)
	srv.SetHealthSources(db, gw)
	mux := http.NewServeMux()
	srv.Routes(mux)

	var handler http.Handler = mux
	if verifier != nil {
		handler = verifier.Middleware(mux)
	}
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}

	var wg sync.WaitGroup
	runBackground(&wg, ctx, "state store", stateStore.Run)
	runBackground(&wg, ctx, "bar stale flusher", func(ctx context.Context) { aggregator.RunStaleFlusher(ctx, time.Duration(cfg.BarFlushIntervalSeconds)*time.Second) })
	runBackground(&wg, ctx, "evaluator", evaluator.Run)
	runBackground(&wg, ctx, "feed gateway", func(ctx context.Context) {
		if err := gw.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("copilot: feed gateway stopped: %v", err)
		}
	})
	if pusher != nil {
		runBackground(&wg, ctx, "push worker", pusher.Run)
	}

	barSub := bus.Subscribe(eventbus.TopicAllBars)
	go func() {
		for evt := range barSub {
			bar, ok := evt.Payload.(types.Bar)
			if !ok {
				continue
			}
			sc.Evaluate(mustState(stateStore, bar.Symbol), time.Now())
			classifiers.dispatch(bar, func(sig types.Signal) {
				evaluator.Record(sig)
				if sig.Displayed {
					bus.Publish(eventbus.SignalTopic(string(sig.Classifier), sig.Symbol), sig)
				}
			}, pusher)
		}
	}()

	if notifier != nil {
		go notifier.Listen(
			func() string { return "co-pilot running" },
			func() string { return "daily report: see /alerts/stats" },
			cancel,
			func(id string) {},
		)
	}

	go func() {
		log.Printf("copilot: http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("copilot: http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Println("copilot: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	cancel()
	wg.Wait()
}

func runBackground(wg *sync.WaitGroup, ctx context.Context, name string, fn func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
		log.Printf("copilot: %s stopped", name)
	}()
}

func mustState(s *state.Store, symbol string) types.SymbolState {
	row, _ := s.Get(symbol)
	return row
}

func toScaleSpeeds(cfgSpeeds map[string]config.ScaleSpeed) map[string]scale.Speed {
	out := make(map[string]scale.Speed, len(cfgSpeeds))
	for name, sp := range cfgSpeeds {
		out[name] = scale.Speed{Name: sp.Name, Chunks: sp.Chunks, Duration: time.Duration(sp.Duration) * time.Second}
	}
	return out
}

// classifierRouter lazily creates one Murphy and one Momo engine per
// symbol the first time a bar for that symbol arrives, and implements
// eval.OutcomeSink by routing a correctness callback back to the right
// Momo engine's reverse-psychology accuracy tracker.
type classifierRouter struct {
	cfg *config.Config

	mu     sync.Mutex
	murphy map[string]*murphy.Engine
	momo   map[string]*momo.Engine
}

func newClassifierRouter(cfg *config.Config) *classifierRouter {
	return &classifierRouter{
		cfg:    cfg,
		murphy: make(map[string]*murphy.Engine),
		momo:   make(map[string]*momo.Engine),
	}
}

func (r *classifierRouter) dispatch(bar types.Bar, record func(types.Signal), pusher *push.Service) {
	r.mu.Lock()
	me, ok := r.murphy[bar.Symbol]
	if !ok {
		me = murphy.New(bar.Symbol)
		r.murphy[bar.Symbol] = me
	}
	mo, ok := r.momo[bar.Symbol]
	if !ok {
		mo = momo.New(bar.Symbol)
		r.momo[bar.Symbol] = mo
	}
	r.mu.Unlock()

	now := time.Now()
	me.OnBar(bar, now, func(sig types.Signal) {
		record(sig)
		pusher.NotifySignal(sig)
	})
	mo.OnBar(bar, now, func(sig types.Signal) {
		record(sig)
		pusher.NotifySignal(sig)
	})
}

// RecordOutcome implements eval.OutcomeSink, routing the Evaluation
// Recorder's correctness callback to the Momo engine for that symbol so
// its period-accuracy tracker (and therefore the reverse-psychology rule)
// stays current.
func (r *classifierRouter) RecordOutcome(symbol string, emittedAt time.Time, correct bool) {
	r.mu.Lock()
	mo, ok := r.momo[symbol]
	r.mu.Unlock()
	if ok {
		mo.RecordOutcome(emittedAt, correct)
	}
}
