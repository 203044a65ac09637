package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"disputeflow/auth"
	"disputeflow/config"
	"disputeflow/db"
	"disputeflow/dispute"
	"disputeflow/evidence"
	"disputeflow/judge"
	"disputeflow/network"
	"disputeflow/workflow"
)

func main() {
	ctx := context.Background()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	evidenceRepo := evidence.NewRepository(pool)
	httpClient := &http.Client{Timeout: cfg.SpecialistTimeout()}
	specialists := map[string]*evidence.Specialist{
		evidence.SpecialistHistory: evidence.NewSpecialist(
			evidence.SpecialistHistory, evidence.NewHistorySource(pool), cfg.SpecialistTimeout()),
		evidence.SpecialistPlatform: evidence.NewSpecialist(
			evidence.SpecialistPlatform, evidence.NewHTTPSource(cfg.PlatformBaseURL, httpClient), cfg.SpecialistTimeout()),
		evidence.SpecialistCarrier: evidence.NewSpecialist(
			evidence.SpecialistCarrier, evidence.NewHTTPSource(cfg.CarrierBaseURL, httpClient), cfg.SpecialistTimeout()),
		evidence.SpecialistComms: evidence.NewSpecialist(
			evidence.SpecialistComms, evidence.NewHTTPSource(cfg.CommsBaseURL, httpClient), cfg.SpecialistTimeout()),
	}
	gatherer := evidence.NewGatherer(specialists, evidenceRepo, evidence.Rules{
		CompletenessFloor:  cfg.CompletenessFloor,
		Lookback:           cfg.Lookback(),
		MinPriorTxns:       cfg.MinPriorTxns,
		MinMatchingSignals: cfg.MinMatchingSignals,
	})

	panel := judge.NewPanel(cfg.Judges, judge.NewRubricEvaluator(),
		cfg.JudgeBudget(), cfg.FabricationThreshold, judge.NewRepository(pool))

	adapter := network.NewAdapter(network.NewHTTPClient(cfg.NetworkBaseURL),
		network.NewRepository(pool), cfg.SubmitMaxAttempts)

	orch := workflow.NewOrchestrator(dispute.NewRepository(pool), evidenceRepo,
		workflow.NewReasonCodeClassifier(), gatherer, panel, adapter, cfg)

	resumeCtx, cancelResume := context.WithTimeout(ctx, 5*time.Minute)
	if err := orch.ResumeAll(resumeCtx); err != nil {
		log.Printf("resume open disputes: %v", err)
	}
	cancelResume()

	monitor, err := workflow.NewMonitor(orch, cfg.MonitorSchedule)
	if err != nil {
		log.Fatalf("bootstrap monitor: %v", err)
	}
	monitor.Start(ctx)
	log.Printf("monitor sweeping on schedule %q", cfg.MonitorSchedule)

	server := &Server{
		authService:    authService,
		disputeService: orch,
	}

	log.Printf("dispute api listening on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, server.routes()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
