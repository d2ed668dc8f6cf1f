package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mem "progresskit/adapters/memory"
	"progresskit/analytics"
	"progresskit/api/httpapi"
	"progresskit/catalog"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/gamify"
	"progresskit/leaderboard"
	"progresskit/realtime"
)

var demoPlan = core.PathwayPlan{
	ID: "demo-pathway",
	Modules: []core.ModulePlan{
		{ID: "welcome", Resources: []string{"intro-video", "handbook"}},
		{ID: "practice", Resources: []string{"exercise-1", "exercise-2"}, PassingScore: 60},
		{ID: "capstone", Resources: []string{"project"}, PassingScore: 80},
	},
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	learners := flag.Int("learners", 5, "number of simulated learners")
	tick := flag.Duration("tick", 2*time.Second, "delay between simulated actions")
	flag.Parse()

	// Use readable text logging for development/demo
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.Default()
	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	metrics := analytics.NewProgressMetrics()
	svc := gamify.New(
		gamify.WithStore(mem.New()),
		gamify.WithCatalog(cat),
		gamify.WithDispatchMode(engine.DispatchAsync),
		gamify.WithRealtime(hub),
		gamify.WithLeaderboard(board),
		gamify.WithAnalytics(metrics),
		gamify.WithLogger(log),
	)
	defer svc.Close()

	srv := &http.Server{
		Addr: *addr,
		Handler: httpapi.NewMux(httpapi.Deps{
			Service: svc, Catalog: cat, Hub: hub, Leaderboard: board, Metrics: metrics,
		}, httpapi.Options{PathPrefix: "/api", AllowCORSOrigin: "*", Logger: log}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go simulate(ctx, svc, log, *learners, *tick)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting demo server", "address", *addr, "stream", "ws://localhost"+*addr+"/api/ws")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// simulate walks learners through demoPlan, one random step per tick.
func simulate(ctx context.Context, svc *engine.Service, log *slog.Logger, n int, tick time.Duration) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ids := make([]core.LearnerID, n)
	for i := range ids {
		ids[i] = core.LearnerID(fmt.Sprintf("demo_learner_%d", i+1))
		if _, err := svc.StartPathway(ctx, ids[i], demoPlan); err != nil {
			log.Warn("demo start failed", "learner", ids[i], "error", err)
		}
		if _, err := svc.RewardAction(ctx, ids[i], core.ActionDailyLogin, core.ActionParams{}); err != nil {
			log.Warn("demo login failed", "learner", ids[i], "error", err)
		}
	}

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		id := ids[rng.Intn(len(ids))]
		if err := step(ctx, svc, id, rng); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("demo step failed", "learner", id, "error", err)
		}
	}
}

func step(ctx context.Context, svc *engine.Service, id core.LearnerID, rng *rand.Rand) error {
	p, err := svc.GetPathway(ctx, id, demoPlan.ID)
	if err != nil {
		return err
	}
	if p.Status == core.PathwayCompleted {
		_, err := svc.RewardAction(ctx, id, core.ActionSpecialEvent, core.ActionParams{Event: "hackathon"})
		return err
	}
	i := p.CurrentModule
	for j, m := range p.Modules {
		if !m.Completed {
			i = j
			break
		}
	}
	m := p.Modules[i]
	for _, r := range m.Resources {
		if !r.Completed {
			_, err := svc.CompleteResource(ctx, id, demoPlan.ID, i, r.ID)
			return err
		}
	}
	score := float64(40 + rng.Intn(61))
	_, err = svc.SubmitQuiz(ctx, id, demoPlan.ID, i, score)
	return err
}
