package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opscart/k8s-rightsizer/pkg/audit"
	"github.com/opscart/k8s-rightsizer/pkg/calculator"
	"github.com/opscart/k8s-rightsizer/pkg/chatops"
	"github.com/opscart/k8s-rightsizer/pkg/cluster"
	"github.com/opscart/k8s-rightsizer/pkg/config"
	"github.com/opscart/k8s-rightsizer/pkg/justify"
	"github.com/opscart/k8s-rightsizer/pkg/logging"
	"github.com/opscart/k8s-rightsizer/pkg/models"
	"github.com/opscart/k8s-rightsizer/pkg/notify"
	"github.com/opscart/k8s-rightsizer/pkg/sampler"
	"github.com/opscart/k8s-rightsizer/pkg/ticket"
	"github.com/opscart/k8s-rightsizer/pkg/validator"
	"github.com/opscart/k8s-rightsizer/pkg/workflow"
)

var (
	// recommend flags
	namespace string
	workload  string
	container string
	kindName  string
)

func main() {
	logging.Init()

	rootCmd := &cobra.Command{
		Use:   "rightsizer",
		Short: "Chat-driven right-sizing of Kubernetes resource requests",
		Long: `rightsizer proposes CPU/memory request and limit changes from historical
usage, gates them behind human confirmation, applies them to the cluster and
records every outcome.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	recommendCmd := &cobra.Command{
		Use:   "recommend",
		Short: "Compute a recommendation for one workload without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecommend(cmd.Context())
		},
	}
	recommendCmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Workload namespace")
	recommendCmd.Flags().StringVarP(&workload, "workload", "w", "", "Workload name")
	recommendCmd.Flags().StringVarP(&container, "container", "c", "", "Container name (defaults to workload name)")
	recommendCmd.Flags().StringVar(&kindName, "kind", "deployment", "Workload kind: deployment or statefulset")
	_ = recommendCmd.MarkFlagRequired("namespace")
	_ = recommendCmd.MarkFlagRequired("workload")

	rootCmd.AddCommand(serveCmd, recommendCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	engine, live, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The confirmation wait is stored state; this sweeper is the external
	// timer that abandons lapsed workflows.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := engine.ExpireStale(ctx); err != nil {
					slog.Error("expiry sweep failed", "error", err)
				} else if n > 0 {
					slog.Info("expired stale workflows", "count", n)
				}
			}
		}
	}()

	mux := http.NewServeMux()
	chatops.NewHandler(engine, live, cfg.ClusterName, cfg.Location).Register(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("server listening", "addr", server.Addr, "cluster", cfg.ClusterName)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runRecommend(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	kind, err := models.ParseWorkloadKind(kindName)
	if err != nil {
		return err
	}
	if container == "" {
		container = workload
	}
	ref := models.WorkloadRef{
		Cluster:   cfg.ClusterName,
		Location:  cfg.Location,
		Namespace: namespace,
		Kind:      kind,
		Name:      workload,
		Container: container,
	}

	clusterClient, err := cluster.New(cfg.KubeContext)
	if err != nil {
		return err
	}
	promSource, err := sampler.NewPrometheusSource(cfg.PrometheusURL, cfg.QueryStep)
	if err != nil {
		return err
	}
	calc, err := calculator.New(policyFromConfig(cfg))
	if err != nil {
		return err
	}

	current, err := clusterClient.ReadSpec(ctx, ref)
	if err != nil {
		return err
	}
	sample, err := promSource.Sample(ctx, ref, cfg.Lookback)
	if err != nil {
		return err
	}
	outcome, err := calc.Calculate(ref, current, sample)
	if err != nil {
		return err
	}

	if outcome.NoChange {
		fmt.Printf("No change needed for %s: %s\n", ref, outcome.Reason)
		return nil
	}

	rec := outcome.Recommendation
	fmt.Printf("Recommendation for %s\n", ref)
	fmt.Printf("  Current:  %s\n", rec.Current)
	fmt.Printf("  Proposed: %s\n", rec.Proposed)
	fmt.Printf("  Basis:    %s\n", rec.Justification)

	quotaSource := cluster.NewQuotaSource(clusterClient, validator.Quota{
		CPUCeilingMillis:   cfg.CPUCeilingMillis,
		MemoryCeilingBytes: cfg.MemoryCeilingBytes,
	})
	quota, err := quotaSource.Quota(ctx, ref)
	if err != nil {
		return err
	}
	verdict := validator.New(cfg.MaxDeltaMultiple, cfg.CPUFloorMillis, cfg.MemoryFloorBytes).Check(rec, quota)
	fmt.Printf("  Verdict:  %s", verdict.Code)
	if verdict.Detail != "" {
		fmt.Printf(" (%s)", verdict.Detail)
	}
	fmt.Println()
	return nil
}

// buildEngine wires all collaborators from configuration. The returned
// cleanup closes any opened database handles.
func buildEngine(cfg *config.Config) (*workflow.Engine, *sampler.MetricsServerSource, func(), error) {
	noop := func() {}

	clusterClient, err := cluster.New(cfg.KubeContext)
	if err != nil {
		return nil, nil, noop, err
	}

	promSource, err := sampler.NewPrometheusSource(cfg.PrometheusURL, cfg.QueryStep)
	if err != nil {
		return nil, nil, noop, err
	}

	calc, err := calculator.New(policyFromConfig(cfg))
	if err != nil {
		return nil, nil, noop, err
	}

	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	var store workflow.Store
	var recorder audit.Recorder = audit.LogRecorder{}
	if cfg.StorageEnabled {
		pgStore, err := workflow.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("workflow store: %w", err)
		}
		closers = append(closers, func() { _ = pgStore.Close() })

		pgRecorder, err := audit.NewPostgresRecorder(cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, noop, fmt.Errorf("audit store: %w", err)
		}
		closers = append(closers, func() { _ = pgRecorder.Close() })

		store = pgStore
		recorder = pgRecorder
	} else {
		store = workflow.NewMemoryStore()
		slog.Warn("storage disabled, workflows and audit records are in-process only")
	}

	var ticketer audit.Ticketer
	if cfg.JiraConfigured() {
		ticketer, err = ticket.NewJira(cfg.JiraURL, cfg.JiraUsername, cfg.JiraAPIToken, cfg.JiraProject)
		if err != nil {
			cleanup()
			return nil, nil, noop, fmt.Errorf("jira: %w", err)
		}
		slog.Info("Jira ticketing configured", "url", cfg.JiraURL, "project", cfg.JiraProject)
	}

	var notifier audit.Notifier
	if cfg.SlackConfigured() {
		notifier = notify.NewSlack(cfg.SlackBotToken, cfg.SlackChannel)
		slog.Info("Slack notifications configured", "channel", cfg.SlackChannel)
	}

	var justifier workflow.Justifier
	if cfg.AnthropicAPIKey != "" {
		justifier = justify.New(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		slog.Info("LLM justification enabled", "model", cfg.AnthropicModel)
	}

	var live *sampler.MetricsServerSource
	if restCfg := clusterClient.RestConfig(); restCfg != nil {
		live, err = sampler.NewMetricsServerSource(restCfg)
		if err != nil {
			slog.Warn("metrics-server unavailable, live usage disabled", "error", err)
			live = nil
		}
	}

	quotaSource := cluster.NewQuotaSource(clusterClient, validator.Quota{
		CPUCeilingMillis:   cfg.CPUCeilingMillis,
		MemoryCeilingBytes: cfg.MemoryCeilingBytes,
	})

	engine, err := workflow.NewEngine(workflow.Config{
		Store:           store,
		Sampler:         promSource,
		Calculator:      calc,
		Validator:       validator.New(cfg.MaxDeltaMultiple, cfg.CPUFloorMillis, cfg.MemoryFloorBytes),
		Quota:           quotaSource,
		Applier:         clusterClient,
		Recorder:        audit.NewPipeline(recorder, ticketer, notifier),
		Justifier:       justifier,
		Lookback:        cfg.Lookback,
		ConfirmationTTL: cfg.ConfirmationTTL,
	})
	if err != nil {
		cleanup()
		return nil, nil, noop, err
	}
	return engine, live, cleanup, nil
}

func policyFromConfig(cfg *config.Config) calculator.Policy {
	policy := calculator.DefaultPolicy()

	if p, err := models.ParsePercentile(cfg.CPUTargetPercentile); err == nil {
		policy.CPUTargetPercentile = p
	}
	if p, err := models.ParsePercentile(cfg.MemoryTargetPercentile); err == nil {
		policy.MemoryTargetPercentile = p
	}
	policy.HeadroomFactor = cfg.HeadroomFactor
	policy.LimitToRequestRatio = cfg.LimitToRequestRatio
	policy.MinChangeThreshold = cfg.MinChangeThreshold
	policy.CPUGranularityMillis = cfg.CPUGranularityMillis
	policy.MemoryGranularityBytes = cfg.MemoryGranularityBytes
	policy.CPUFloorMillis = cfg.CPUFloorMillis
	policy.MemoryFloorBytes = cfg.MemoryFloorBytes
	policy.CPUCeilingMillis = cfg.CPUCeilingMillis
	policy.MemoryCeilingBytes = cfg.MemoryCeilingBytes
	policy.MinSamples = cfg.MinSamples
	return policy
}
