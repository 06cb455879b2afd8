// Package app wires configuration, providers, the session manager, and the
// HTTP control surface into a runnable Parley server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/executor"
	"github.com/parleyhq/parley/internal/health"
	"github.com/parleyhq/parley/internal/intent"
	"github.com/parleyhq/parley/internal/observe"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/provider/classify"
	classifyanyllm "github.com/parleyhq/parley/pkg/provider/classify/anyllm"
	classifyopenai "github.com/parleyhq/parley/pkg/provider/classify/openai"
	"github.com/parleyhq/parley/pkg/provider/convo"
	"github.com/parleyhq/parley/pkg/provider/convo/realtime"
	"github.com/parleyhq/parley/pkg/speech"
	"github.com/parleyhq/parley/pkg/speech/push"
)

const (
	defaultListenAddr = ":8080"
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second

	// anyllmProviderKey is the Options key selecting the any-llm backend.
	anyllmProviderKey = "provider"
)

// DefaultRegistry returns a [config.Registry] with the built-in providers
// registered: "openai" and "anyllm" classifiers and the "realtime"
// conversation channel.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()

	r.RegisterClassifier("openai", func(e config.ProviderEntry) (classify.Provider, error) {
		var opts []classifyopenai.Option
		if e.Model != "" {
			opts = append(opts, classifyopenai.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, classifyopenai.WithBaseURL(e.BaseURL))
		}
		return classifyopenai.New(e.APIKey, opts...)
	})

	r.RegisterClassifier("anyllm", func(e config.ProviderEntry) (classify.Provider, error) {
		backend, _ := e.Options[anyllmProviderKey].(string)
		if backend == "" {
			return nil, fmt.Errorf("app: anyllm classifier needs options.%s (e.g. \"ollama\")", anyllmProviderKey)
		}
		return classifyanyllm.New(backend, e.Model)
	})

	r.RegisterChannel("realtime", func(cfg config.ChannelConfig) (convo.Channel, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("app: realtime channel needs channel.url")
		}
		var opts []realtime.Option
		if cfg.Model != "" {
			opts = append(opts, realtime.WithModel(cfg.Model))
		}
		if cfg.Instructions != "" {
			opts = append(opts, realtime.WithInstructions(cfg.Instructions))
		}
		return realtime.New(cfg.URL, cfg.APIKey, opts...), nil
	})

	return r
}

// Deps are the externally constructed collaborators the App wires together.
type Deps struct {
	// Source supplies transcripts. Required. When it is a [push.Source] the
	// HTTP speech ingest endpoints are enabled.
	Source speech.Source

	// Channel is the conversation channel. Required.
	Channel convo.Channel

	// Remote is the remote classification backend. Nil disables remote
	// classification; ambiguous utterances then resolve to the fallback.
	Remote classify.Provider

	// Store persists tasks, timers, and list items. Required.
	Store store.Store

	// Metrics receives instrumentation. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// HealthCheckers are extra readiness probes (e.g. a database ping).
	HealthCheckers []health.Checker
}

// App is the assembled Parley server.
type App struct {
	cfg     *config.Config
	deps    Deps
	manager *Manager
	ingest  *push.Source // nil unless Source is push-driven

	mu         sync.Mutex
	runCtx     context.Context // lifetime for API-started sessions
	classifier *intent.Classifier
}

// New validates deps and assembles the App. The session manager builds one
// orchestrator per session from the configured heuristic, classifier,
// executor, and channel.
func New(cfg *config.Config, deps Deps) (*App, error) {
	var errs []error
	if deps.Source == nil {
		errs = append(errs, errors.New("app: Deps.Source is required"))
	}
	if deps.Channel == nil {
		errs = append(errs, errors.New("app: Deps.Channel is required"))
	}
	if deps.Store == nil {
		errs = append(errs, errors.New("app: Deps.Store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}

	exec := executor.New(deps.Store)

	a := &App{
		cfg:        cfg,
		deps:       deps,
		classifier: buildClassifier(cfg, deps.Remote),
	}
	a.manager = NewManager(func() *session.Orchestrator {
		return session.New(session.Config{
			Source:     deps.Source,
			Classifier: a.currentClassifier(),
			Channel:    deps.Channel,
			Executor:   exec,
			Metrics:    deps.Metrics,
			SendGrace:  time.Duration(cfg.Session.SendGraceMS) * time.Millisecond,
		})
	})
	if src, ok := deps.Source.(*push.Source); ok {
		a.ingest = src
	}
	return a, nil
}

// buildClassifier assembles the intent pipeline from the config: the keyword
// heuristic, the remote backend, the hard timeout, and the fallback verdict.
func buildClassifier(cfg *config.Config, remote classify.Provider) *intent.Classifier {
	var heuristicOpts []intent.Option
	if len(cfg.Heuristic.ExtraKeywords) > 0 {
		heuristicOpts = append(heuristicOpts, intent.WithKeywords(cfg.Heuristic.ExtraKeywords...))
	}
	if cfg.Heuristic.Phonetic {
		heuristicOpts = append(heuristicOpts, intent.WithPhoneticMatching(cfg.Heuristic.PhoneticThreshold))
	}
	return intent.NewClassifier(intent.ClassifierConfig{
		Heuristic: intent.NewHeuristic(heuristicOpts...),
		Remote:    remote,
		Timeout:   time.Duration(cfg.Classifier.TimeoutMS) * time.Millisecond,
		Fallback:  fallbackVerdict(cfg.Classifier.Fallback),
	})
}

// ApplyConfig applies a hot-reloaded config. Classifier settings take effect
// for sessions started after the call; channel instructions apply to sessions
// warmed up after it. Restart-only fields (endpoints, credentials, the store
// DSN) are ignored here.
func (a *App) ApplyConfig(d config.ConfigDiff, cfg *config.Config) {
	if d.HeuristicChanged || d.FallbackChanged {
		a.mu.Lock()
		a.classifier = buildClassifier(cfg, a.deps.Remote)
		a.mu.Unlock()
		slog.Info("app: classifier settings reloaded",
			"phonetic", cfg.Heuristic.Phonetic,
			"fallback", cfg.Classifier.Fallback)
	}
	if d.InstructionsChanged {
		if rt, ok := a.deps.Channel.(*realtime.Channel); ok {
			rt.SetInstructions(cfg.Channel.Instructions)
			slog.Info("app: channel instructions reloaded")
		}
	}
}

func (a *App) currentClassifier() *intent.Classifier {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.classifier
}

// Manager exposes the session manager, primarily for tests.
func (a *App) Manager() *Manager { return a.manager }

// Run serves the HTTP control surface until ctx is cancelled, then shuts the
// server and any active session down gracefully.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	a.setRunCtx(gctx)

	g.Go(func() error {
		slog.Info("app: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("app: http shutdown", "err", err)
		}

		if err := a.manager.Stop(); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("app: session stop", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// Handler builds the HTTP routing table: health and metrics endpoints plus
// the JSON session API, all wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	health.New(a.deps.HealthCheckers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	api := &apiHandler{manager: a.manager, ingest: a.ingest, baseCtx: a.baseContext}
	api.register(mux)

	return observe.Middleware(a.deps.Metrics)(mux)
}

func (a *App) setRunCtx(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runCtx = ctx
}

// baseContext is the lifetime for sessions started over the API: the run
// context while the server runs, background otherwise (tests).
func (a *App) baseContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.Background()
}

// fallbackVerdict maps the config enum onto the classifier verdict.
func fallbackVerdict(f config.Fallback) classify.Verdict {
	if f == config.FallbackCommand {
		return classify.VerdictCommand
	}
	return classify.VerdictConversation
}
