package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	assistantx "github.com/tanpawarit/crm-assistant/agent/agents/assistant"
	"github.com/tanpawarit/crm-assistant/agent/agents/orchestrator"
	"github.com/tanpawarit/crm-assistant/agent/api"
	"github.com/tanpawarit/crm-assistant/agent/audit"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	"github.com/tanpawarit/crm-assistant/agent/llm"
	promptx "github.com/tanpawarit/crm-assistant/agent/prompt"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
	toolx "github.com/tanpawarit/crm-assistant/agent/tool"
	configx "github.com/tanpawarit/crm-assistant/pkg/config"
	gmailx "github.com/tanpawarit/crm-assistant/pkg/gmail"
	groqx "github.com/tanpawarit/crm-assistant/pkg/groq"
	hubspotx "github.com/tanpawarit/crm-assistant/pkg/hubspot"
	_ "github.com/tanpawarit/crm-assistant/pkg/logger/autoload"
	tracingx "github.com/tanpawarit/crm-assistant/pkg/tracing"
)

// Flags are registered before the first config load, which parses the
// command line together with -env.
var (
	sessionFlag = flag.String("session", "", "session id; history is loaded and saved under it")
	serveFlag   = flag.Bool("serve", false, "serve the HTTP API instead of reading requests")
	addrFlag    = flag.String("addr", ":8080", "listen address for -serve")
)

func main() {
	logger := log.Logger

	llmCfg := configx.MustNew[llm.Config]("LLM")
	agentCfg := configx.MustNew[orchestrator.Config]("AGENT")
	hubspotCfg := configx.MustNew[hubspotx.Config]("HUBSPOT")
	gmailCfg := configx.MustNew[gmailx.Config]("GMAIL")
	tracingCfg := configx.MustNew[tracingx.Config]("OTEL")
	redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	auditCfg := configx.MustNew[audit.Config]("AUDIT")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if tracingCfg.Enabled() {
		tp, err := tracingx.InitTracer(ctx, *tracingCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("init tracer")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	groqCfg, err := llmCfg.WithAPIKey(os.Getenv("GROQ_API_KEY")).Groq()
	if err != nil {
		logger.Fatal().Err(err).Msg("resolve completion config")
	}
	if llmCfg.Preflight {
		if err := groqx.VerifyModel(ctx, groqx.NewClient(groqCfg), groqCfg.Model); err != nil {
			logger.Fatal().Err(err).Msg("completion model preflight")
		}
	}
	chatModel, err := groqCfg.New(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("create chat model")
	}

	crm := hubspotx.MustNew(*hubspotCfg)
	mailer := gmailx.MustNew(context.Background(), *gmailCfg)

	catalog := toolx.MustDefaultCatalog()
	dispatcher, err := toolx.NewDispatcher(catalog, crm, mailer,
		toolx.WithActionTimeout(agentCfg.ActionTimeout),
		toolx.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create dispatcher")
	}

	prompts := promptx.LoadPromptSet()
	completion, err := assistantx.New(ctx, chatModel, catalog, prompts.System,
		assistantx.WithTimeout(agentCfg.DecideTimeout),
		assistantx.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create assistant")
	}

	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if redisCfg.Enabled() {
		store, err := statex.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("create transcript store")
		}
		opts = append(opts, orchestrator.WithStore(store))
	}
	if auditCfg.Enabled() {
		auditStore, err := audit.Open(ctx, *auditCfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("open audit store")
		}
		defer auditStore.Close()
		opts = append(opts, orchestrator.WithRecorder(auditStore))
	}

	service, err := orchestrator.New(completion, dispatcher, *agentCfg, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("create orchestrator")
	}

	switch {
	case *serveFlag:
		serve(ctx, service, logger)
	case flag.NArg() > 0:
		text := strings.Join(flag.Args(), " ")
		if !runOnce(ctx, service, *sessionFlag, text, os.Stdout) {
			os.Exit(1)
		}
	default:
		sessionID := strings.TrimSpace(*sessionFlag)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		repl(ctx, service, sessionID, os.Stdin, os.Stdout)
	}
}

func serve(ctx context.Context, service *orchestrator.Service, logger zerolog.Logger) {
	httpServer := &http.Server{
		Addr:         *addrFlag,
		Handler:      api.NewRouter(service, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", *addrFlag).Msg("crm assistant listening")
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

// runOnce serves a single request and reports whether it finished Done.
func runOnce(ctx context.Context, service *orchestrator.Service, sessionID string, text string, out io.Writer) bool {
	var (
		res contractx.RunResult
		err error
	)
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		res, err = service.HandleMessage(ctx, sessionID, text)
	} else {
		res, err = service.Run(ctx, text)
	}
	printResult(out, res, err)
	return err == nil && res.Status == contractx.RunDone
}

// repl reads one request per line until EOF or cancellation. All lines share
// one session so later requests see earlier ones.
func repl(ctx context.Context, service *orchestrator.Service, sessionID string, in io.Reader, out io.Writer) {
	fmt.Fprintf(out, "session %s, one request per line, Ctrl-D to quit\n", sessionID)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		res, err := service.HandleMessage(ctx, sessionID, line)
		printResult(out, res, err)
		if ctx.Err() != nil {
			return
		}
	}
}

func printResult(out io.Writer, res contractx.RunResult, err error) {
	for _, o := range res.Outcomes {
		mark := "ok"
		if !o.Success {
			mark = "failed"
		}
		fmt.Fprintf(out, "  [%s] %s: %s\n", mark, o.Invocation.Action, o.Message)
	}
	switch {
	case res.Status == contractx.RunDone:
		fmt.Fprintln(out, res.FinalText)
		if err != nil {
			fmt.Fprintf(out, "warning: %v\n", err)
		}
	case res.FailureReason != "":
		fmt.Fprintf(out, "error: %s\n", res.FailureReason)
	case err != nil:
		fmt.Fprintf(out, "error: %v\n", err)
	}
}
