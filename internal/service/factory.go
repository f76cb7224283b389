// Package service wires the approval gate and its collaborators from
// configuration. Handlers and binaries depend on Services, not on the
// individual constructors.
package service

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"basegraph.app/warden/common/llm"
	"basegraph.app/warden/core/config"
	"basegraph.app/warden/internal/action"
	"basegraph.app/warden/internal/analyzer"
	"basegraph.app/warden/internal/approval"
	"basegraph.app/warden/internal/audit"
	"basegraph.app/warden/internal/ciwatch"
	"basegraph.app/warden/internal/integration"
	"basegraph.app/warden/internal/metrics"
	"basegraph.app/warden/internal/notify"
	"basegraph.app/warden/internal/queue"
	"basegraph.app/warden/internal/ratelimit"
)

type ServicesConfig struct {
	Config  config.Config
	Audit   *audit.Logger
	Metrics *metrics.Metrics
	// Redis backs the limiter and cost counters when set; memory otherwise.
	Redis  *redis.Client
	Events queue.Publisher
	// Fs holds the patch working trees. Defaults to the OS filesystem.
	Fs afero.Fs
	// Notifier overrides the channel picked from Config.Notify.
	Notifier notify.Notifier
	// Transport overrides the GitHub and Jira transports, for tests.
	Transport integration.Transport
}

type Services struct {
	cfg       config.Config
	queue     *approval.Queue
	approvals *approval.Service
	analyzer  *analyzer.Analyzer
	watcher   *ciwatch.Watcher
	limiter   ratelimit.Limiter
	rules     ratelimit.Rules
	costs     *ratelimit.CostTracker
	metrics   *metrics.Metrics
}

func NewServices(sc ServicesConfig) (*Services, error) {
	cfg := sc.Config
	if sc.Audit == nil {
		return nil, fmt.Errorf("audit logger is required")
	}
	if sc.Fs == nil {
		sc.Fs = afero.NewOsFs()
	}
	if sc.Notifier == nil {
		sc.Notifier = notify.New(cfg.Notify)
	}

	ghTransport, jiraTransport := transports(cfg, sc.Transport)
	github := integration.NewGitHub(ghTransport)
	jira := integration.NewJira(jiraTransport)
	router := action.NewRouter(github, jira, action.NewPatchApplier(sc.Fs, cfg.Policy.WorktreeDir), cfg.Policy.AdapterTimeout)

	q := approval.NewQueue(cfg.Worker.NotifyQueueSize, sc.Metrics)
	approvals := approval.NewService(q, router, sc.Audit, sc.Events, sc.Metrics)

	var counts ratelimit.CounterStore = ratelimit.NewMemoryCounterStore()
	if sc.Redis != nil {
		counts = ratelimit.NewRedisCounterStore(sc.Redis)
	}
	costs := ratelimit.NewCostTracker(counts, cfg.Cost.DailyLimit, cfg.Cost.WarnThreshold, sc.Audit)

	var patterns []*analyzer.Pattern
	if cfg.Analyzer.PatternsFile != "" {
		loaded, err := analyzer.LoadPatterns(cfg.Analyzer.PatternsFile)
		if err != nil {
			return nil, fmt.Errorf("loading failure patterns: %w", err)
		}
		patterns = loaded
	}

	deps := analyzer.Deps{
		Notifier:    sc.Notifier,
		Costs:       costs,
		Submitter:   approvals,
		Metrics:     sc.Metrics,
		AutoApprove: cfg.Policy.AutoApproveFixes,
	}
	if cfg.CodeGen.Enabled() {
		client, err := llm.NewAgentClient(llm.Config{
			APIKey:    cfg.CodeGen.APIKey,
			BaseURL:   cfg.CodeGen.BaseURL,
			Model:     cfg.CodeGen.Model,
			MaxTokens: cfg.CodeGen.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("creating code generation client: %w", err)
		}
		deps.Patches = llm.NewPatchGenerator(client)
	}
	failures, err := analyzer.New(patterns, deps)
	if err != nil {
		return nil, fmt.Errorf("creating failure analyzer: %w", err)
	}

	watchDeps := ciwatch.Deps{
		Submitter: approvals,
		Analyzer:  failures,
		CheckLogs: github,
		Metrics:   sc.Metrics,
	}
	if cfg.GitLab.Enabled() {
		logs, err := integration.NewGitLabLogs(cfg.GitLab)
		if err != nil {
			return nil, err
		}
		watchDeps.PipelineLogs = logs
	}

	// Built last: the memory limiter owns a cleanup goroutine.
	rules := ratelimit.Rules{Default: cfg.RateLimit.Default, ByKind: cfg.RateLimit.Rules}
	var base ratelimit.Limiter
	if sc.Redis != nil {
		base = ratelimit.NewRedisLimiter(sc.Redis, rules)
	} else {
		base = ratelimit.NewMemoryLimiter(rules)
	}

	return &Services{
		cfg:       cfg,
		queue:     q,
		approvals: approvals,
		analyzer:  failures,
		watcher:   ciwatch.New(watchDeps),
		limiter:   ratelimit.NewAuditedLimiter(base, sc.Audit, sc.Metrics.RateLimitDenied),
		rules:     rules,
		costs:     costs,
		metrics:   sc.Metrics,
	}, nil
}

func transports(cfg config.Config, override integration.Transport) (integration.Transport, integration.Transport) {
	if override != nil {
		return override, override
	}
	if cfg.Policy.DryRun {
		slog.Warn("dry run enabled: approved actions are echoed, not executed")
		echo := integration.NewEchoTransport()
		return echo, echo
	}
	return integration.NewGitHubTransport(cfg.GitHub), integration.NewJiraTransport(cfg.Jira)
}

func (s *Services) Config() config.Config {
	return s.cfg
}

func (s *Services) Queue() *approval.Queue {
	return s.queue
}

func (s *Services) Approvals() *approval.Service {
	return s.approvals
}

func (s *Services) Analyzer() *analyzer.Analyzer {
	return s.analyzer
}

func (s *Services) Watcher() *ciwatch.Watcher {
	return s.watcher
}

func (s *Services) Limiter() ratelimit.Limiter {
	return s.limiter
}

// Rule is the rate rule applied to kind.
func (s *Services) Rule(kind string) ratelimit.Rule {
	return s.rules.For(kind)
}

func (s *Services) Costs() *ratelimit.CostTracker {
	return s.costs
}

func (s *Services) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Services) Close() error {
	return s.limiter.Close()
}
