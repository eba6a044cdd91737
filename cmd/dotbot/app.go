package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/config"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/core"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/llm/factory"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/memory"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/metrics"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/notify"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/plan"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/registry"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/routing"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/runner"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/workspace"
)

// app is the fully wired process.
type app struct {
	service    *core.Service
	runner     *runner.Runner
	executor   *routing.Executor
	store      *memory.Store
	dispatcher *notify.Dispatcher
	registry   *prometheus.Registry
	closers    []io.Closer
	logger     *logx.Logger
}

// buildApp wires every component from cfg. Agents launched by the runner
// live until ctx is cancelled. With launch false, new agents are recorded
// and planned but never executed.
func buildApp(ctx context.Context, cfg *config.Config, launch bool) (*app, error) {
	a := &app{
		registry: prometheus.NewRegistry(),
		logger:   logx.NewLogger("dotbot"),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector("dotbot"),
	)
	recorder := metrics.NewPrometheusRecorder(a.registry)

	catalog, err := loadCatalog(cfg.Planning.CatalogPath)
	if err != nil {
		return nil, err
	}

	models, err := factory.NewTiers(cfg.LLM, recorder)
	if err != nil {
		return nil, fmt.Errorf("build model tiers: %w", err)
	}

	a.store, err = memory.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	a.closers = append(a.closers, a.store)

	backends, err := a.notifyBackends(cfg.Notify)
	if err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	a.dispatcher = notify.NewDispatcher(cfg.Notify.BufferSize, backends...)

	live := registry.New()
	plans := plan.NewFileStore()
	creator := plan.NewCreator(models, recorder, cfg.Planning.FallbackToolCount)
	a.executor = routing.NewExecutor(live, a.store, a.dispatcher, recorder, cfg.Routing.ExecutorTimeout)

	deps := core.Deps{
		Memory:    a.store,
		Plans:     plans,
		Lock:      routing.NewLock(recorder),
		Collector: routing.NewCollector(a.store, plans, live, recorder, routing.CollectorConfig{
			MinConfidence:   cfg.Routing.MinMatchConfidence,
			PlanReadTimeout: cfg.Routing.PlanReadTimeout,
		}),
		Router:     routing.NewRouter(models, recorder),
		Executor:   a.executor,
		Creator:    creator,
		Workspaces: workspace.NewManager(cfg.Workspace.BaseDir),
		Sink:       a.dispatcher,
		Live:       live,
		Catalog:    catalog,
	}
	if launch {
		a.runner = runner.New(ctx, runner.Deps{
			Registry: live,
			Status:   a.store,
			Plans:    plans,
			Creator:  creator,
			Replanner: plan.NewReplanner(models, recorder, plan.ReplannerConfig{
				CritiqueInterval:   cfg.Planning.CritiqueInterval,
				DeepRemainingSteps: cfg.Planning.DeepRemainingSteps,
				OutputTokenBudget:  cfg.Planning.OutputTokenBudget,
			}),
			Steps:   runner.NewLLMStepRunner(models, cfg.Planning.OutputTokenBudget),
			Sink:    a.dispatcher,
			Catalog: catalog,
		})
		deps.Launcher = a.runner
	}

	a.service, err = core.NewService(deps, core.Options{
		LockTimeout:   cfg.Routing.LockTimeout,
		MinConfidence: cfg.Routing.MinMatchConfidence,
	})
	if err != nil {
		_ = a.close(context.Background())
		return nil, err
	}
	logModels(a.logger, models)
	return a, nil
}

func (a *app) notifyBackends(cfg config.NotifyConfig) ([]notify.Backend, error) {
	var backends []notify.Backend
	if cfg.EventLogDir != "" {
		el, err := notify.NewEventLog(cfg.EventLogDir)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		a.closers = append(a.closers, el)
		backends = append(backends, el)
	}
	if cfg.NATSURL != "" {
		nb, err := notify.DialNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nb)
		backends = append(backends, nb)
	}
	return backends, nil
}

// close waits for in-flight work, flushes notifications, then releases
// resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	if a.runner != nil {
		a.runner.Wait()
	}
	if a.executor != nil {
		a.executor.Wait()
	}
	var errs []error
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush notifications: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadCatalog(path string) ([]plan.Tool, error) {
	if path == "" {
		return plan.DefaultCatalog(), nil
	}
	catalog, err := plan.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	return catalog, nil
}

func logModels(logger *logx.Logger, models llm.TierSelector) {
	logger.Info("Fast tier: %s, deep tier: %s",
		models.Select(llm.TierFast).GetModelName(), models.Select(llm.TierDeep).GetModelName())
}
