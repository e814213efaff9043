// Command callflowd runs the call orchestration service: provider
// webhooks, the live media-stream endpoint and the outbound dispatcher.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	orchestration "github.com/telvox/callflow-core/core"
	"github.com/telvox/callflow-core/core/callrecord"
	"github.com/telvox/callflow-core/core/dispatch"
	"github.com/telvox/callflow-core/core/graph"
	"github.com/telvox/callflow-core/core/guardrail"
	"github.com/telvox/callflow-core/core/intent"
	intentopenai "github.com/telvox/callflow-core/core/intent/openai"
	"github.com/telvox/callflow-core/core/session"
	sttdeepgram "github.com/telvox/callflow-core/core/speechtotext/deepgram"
	ttsdeepgram "github.com/telvox/callflow-core/core/texttospeech/deepgram"
	"github.com/telvox/callflow-core/core/telephony"
	"github.com/telvox/callflow-core/server"
)

type config struct {
	Addr       string
	PublicHost string

	WorkflowDir string

	RedisURL    string
	PostgresURL string

	TwilioAccountSID string
	TwilioAuthToken  string

	EscalationNumber string
	DefaultLanguage  string
}

func loadConfig() (config, error) {
	cfg := config{
		Addr:             envOr("CALLFLOW_ADDR", ":8080"),
		PublicHost:       os.Getenv("CALLFLOW_PUBLIC_HOST"),
		WorkflowDir:      envOr("CALLFLOW_WORKFLOW_DIR", "workflows"),
		RedisURL:         os.Getenv("REDIS_URL"),
		PostgresURL:      os.Getenv("DATABASE_URL"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		EscalationNumber: os.Getenv("CALLFLOW_ESCALATION_NUMBER"),
		DefaultLanguage:  envOr("CALLFLOW_DEFAULT_LANGUAGE", "en"),
	}
	if cfg.PublicHost == "" {
		return cfg, errors.New("CALLFLOW_PUBLIC_HOST is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// loadWorkflows reads every *.json file in dir as a conversation graph
// keyed by its file name stem.
func loadWorkflows(dir string) (server.StaticWorkflows, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow dir: %w", err)
	}

	workflows := server.StaticWorkflows{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow %s: %w", entry.Name(), err)
		}
		g, err := graph.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse workflow %s: %w", entry.Name(), err)
		}
		workflows[strings.TrimSuffix(entry.Name(), ".json")] = g
	}
	if len(workflows) == 0 {
		return nil, fmt.Errorf("no workflows found in %s", dir)
	}
	return workflows, nil
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	workflows, err := loadWorkflows(cfg.WorkflowDir)
	if err != nil {
		return err
	}
	logger.Info("workflows loaded", "count", len(workflows))

	var sessions session.Store
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()
		sessions = session.NewRedisStore(client, session.DefaultTTL)
		logger.Info("using redis session store")
	} else {
		sessions = session.NewMemoryStore(session.DefaultTTL)
		logger.Warn("REDIS_URL not set, sessions are process-local")
	}

	var records callrecord.Store
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		store := callrecord.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure call record schema: %w", err)
		}
		records = store
		logger.Info("using postgres call record store")
	} else {
		records = callrecord.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, call records are process-local")
	}

	var twilio *telephony.TwilioClient
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		twilio = telephony.NewTwilioClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	} else {
		logger.Warn("twilio credentials not set, outbound calls and transfers are disabled")
	}

	classifier := intentopenai.NewClassifier()
	resolver := intent.NewResolver(classifier)

	ttsClient, err := ttsdeepgram.NewTextToSpeechClient()
	if err != nil {
		return fmt.Errorf("build text-to-speech client: %w", err)
	}

	serverOpts := []server.Option{
		server.WithWorkflowSource(workflows),
		server.WithSessionStore(sessions),
		server.WithCallRecordStore(records),
		server.WithGuardrailPolicy(guardrail.NewPolicy()),
		server.WithIntentResolver(resolver),
		server.WithDefaultLanguage(cfg.DefaultLanguage),
		server.WithSpeechToTextFactory(func() orchestration.SpeechToText {
			client, err := sttdeepgram.NewTranscriptionClient()
			if err != nil {
				logger.Error("failed to build transcription client", "error", err)
				return nil
			}
			return client
		}),
		server.WithTextToSpeechFactory(func() orchestration.TextToSpeech {
			return ttsClient
		}),
	}
	if cfg.EscalationNumber != "" {
		serverOpts = append(serverOpts, server.WithEscalationNumber(cfg.EscalationNumber))
	}

	var dispatcher *dispatch.Dispatcher
	if twilio != nil {
		serverOpts = append(serverOpts, server.WithTelephonyController(twilio))
		dispatcher = dispatch.NewDispatcher(records, twilio, "https://"+cfg.PublicHost)
		dispatcher.Start(ctx)
		defer dispatcher.Stop()
		serverOpts = append(serverOpts, server.WithDispatcher(dispatcher))
	}

	srv := server.New(cfg.PublicHost, serverOpts...)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "publicHost", cfg.PublicHost)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
			return
		}
		listenErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if err := run(context.Background(), logger); err != nil {
		logger.Error("callflowd exited", "error", err)
		os.Exit(1)
	}
}
