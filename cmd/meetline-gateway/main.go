package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meetline-ai/meetline/internal/dotenv"
	"github.com/meetline-ai/meetline/pkg/core"
	"github.com/meetline-ai/meetline/pkg/core/agent"
	"github.com/meetline-ai/meetline/pkg/core/booking"
	"github.com/meetline-ai/meetline/pkg/core/calendar"
	"github.com/meetline-ai/meetline/pkg/core/extract"
	"github.com/meetline-ai/meetline/pkg/core/live"
	"github.com/meetline-ai/meetline/pkg/core/providers/gemini"
	"github.com/meetline-ai/meetline/pkg/core/providers/openai"
	"github.com/meetline-ai/meetline/pkg/core/transcript"
	"github.com/meetline-ai/meetline/pkg/core/voice/stt"
	"github.com/meetline-ai/meetline/pkg/core/voice/tts"
	"github.com/meetline-ai/meetline/pkg/gateway/config"
	gatewayserver "github.com/meetline-ai/meetline/pkg/gateway/server"
	"github.com/meetline-ai/meetline/pkg/store/postgres"
	"github.com/meetline-ai/meetline/pkg/store/redisstore"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	buildGateway func(context.Context, config.Config, *slog.Logger) (*gatewayserver.Server, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:   config.LoadFromEnv,
		buildGateway: buildGateway,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// languageModel is the capability surface the dialogue needs from one LLM
// provider: blocking generation for extraction and streaming for replies.
type languageModel interface {
	extract.Generator
	agent.StreamGenerator
}

// geminiLLM adapts the Gemini provider's concrete stream type to the
// coordinator's token stream interface.
type geminiLLM struct {
	p *gemini.Provider
}

func (g geminiLLM) Generate(ctx context.Context, system, user string) (string, error) {
	return g.p.Generate(ctx, system, user)
}

func (g geminiLLM) Stream(ctx context.Context, system, user string) (live.TokenStream, error) {
	return g.p.Stream(ctx, system, user)
}

// unconfiguredBooker stands in when Google Calendar credentials are not
// set up, so confirmation still produces a spoken failure instead of a
// crash.
type unconfiguredBooker struct{}

func (unconfiguredBooker) CreateEvent(ctx context.Context, snap booking.Snapshot) (booking.Result, error) {
	return booking.Result{}, core.NewBookingError(errors.New("google calendar is not connected; run google-login or configure the OAuth endpoints"))
}

func buildLLM(ctx context.Context, cfg config.Config) (languageModel, error) {
	switch cfg.LLMProviderName {
	case config.LLMProviderGemini:
		p, err := gemini.New(ctx, cfg.GeminiAPIKey,
			gemini.WithModel(cfg.GeminiModel),
			gemini.WithTimeout(cfg.LLMTimeout))
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		return geminiLLM{p: p}, nil
	default:
		return openai.New(cfg.OpenAIAPIKey,
			openai.WithBaseURL(cfg.OpenAIBaseURL),
			openai.WithModel(cfg.OpenAIModel),
			openai.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
		), nil
	}
}

func buildSynthesizer(cfg config.Config) live.Synthesizer {
	switch cfg.TTSProviderName {
	case config.TTSProviderCartesia:
		opts := []tts.CartesiaOption{
			tts.WithCartesiaTimeout(cfg.TTSTimeout),
		}
		if cfg.TTSVoice != "" {
			opts = append(opts, tts.WithCartesiaVoice(cfg.TTSVoice))
		}
		return tts.NewCartesia(cfg.CartesiaAPIKey, opts...)
	default:
		opts := []tts.OpenAIOption{
			tts.WithOpenAIBaseURL(cfg.OpenAIBaseURL),
			tts.WithOpenAIHTTPClient(&http.Client{Timeout: cfg.TTSTimeout}),
		}
		if cfg.TTSVoice != "" {
			opts = append(opts, tts.WithOpenAIVoice(cfg.TTSVoice))
		}
		return tts.NewOpenAI(cfg.OpenAIAPIKey, opts...)
	}
}

func buildStore(ctx context.Context, cfg config.Config) (transcript.Store, func(), error) {
	switch cfg.TranscriptStore {
	case config.StorePostgres:
		st, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		return st, st.Close, nil
	case config.StoreRedis:
		st, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return transcript.NewMemoryStore(), func() {}, nil
	}
}

func buildGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("load timezone: %w", err)
	}

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	llm, err := buildLLM(ctx, cfg)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	ext := extract.New(llm, extract.Config{
		Location: loc,
		Window:   cfg.HistoryWindow,
		Logger:   logger,
	})
	co := live.NewCoordinator(buildSynthesizer(cfg), live.Config{Logger: logger})

	var flow *calendar.OAuthFlow
	var creds calendar.CredentialsStore
	var booker booking.Booker = unconfiguredBooker{}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		flow = &calendar.OAuthFlow{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURI:  cfg.GoogleRedirectURI,
		}
		if cfg.GoogleCredentialsFile != "" {
			creds = calendar.NewFileCredentialsStore(cfg.GoogleCredentialsFile)
			booker = calendar.NewClient(
				calendar.NewRefreshingTokenSource(flow, creds),
				calendar.WithLocation(loc),
			)
		}
	}

	ag := agent.New(agent.Config{
		Location:       loc,
		BookingTimeout: cfg.BookingTimeout,
		Logger:         logger,
	}, store, ext, llm, co, booker)

	var sttProvider stt.Provider
	if cfg.OpenAIAPIKey != "" {
		sttProvider = stt.NewOpenAI(cfg.OpenAIAPIKey, stt.WithOpenAIBaseURL(cfg.OpenAIBaseURL))
	}

	srv := gatewayserver.New(cfg, gatewayserver.Deps{
		Agent:       ag,
		STT:         sttProvider,
		Store:       store,
		OAuthFlow:   flow,
		Credentials: creds,
	}, logger)
	return srv, closeStore, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildGateway == nil {
		return errors.New("missing buildGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, cleanup, err := deps.buildGateway(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer cleanup()
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"llm_provider", cfg.LLMProviderName,
		"tts_provider", cfg.TTSProviderName,
		"store", cfg.TranscriptStore)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.Lifecycle().SetDraining(true)
	gw.Tracker().NotifyAll("draining", "server is draining; reconnect shortly")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.Tracker().Wait(waitCtx) {
		gw.Tracker().CloseAll()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "meetline-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "meetline-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
