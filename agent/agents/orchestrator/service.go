package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	statex "github.com/tanpawarit/crm-assistant/agent/state"
)

// Config bounds a run. Read with prefix AGENT.
type Config struct {
	MaxIterations   int           `envconfig:"MAX_ITERATIONS" split_words:"true" default:"5"`
	Verbose         bool          `envconfig:"VERBOSE" split_words:"true" default:"true"`
	MaxHistoryTurns int           `envconfig:"MAX_HISTORY_TURNS" split_words:"true" default:"200"`
	ActionTimeout   time.Duration `envconfig:"ACTION_TIMEOUT" split_words:"true" default:"20s"`
	DecideTimeout   time.Duration `envconfig:"DECIDE_TIMEOUT" split_words:"true" default:"60s"`
}

func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be >= 1, got %d", contractx.ErrValidation, c.MaxIterations)
	}
	if c.MaxHistoryTurns < 0 {
		return fmt.Errorf("%w: max history turns must be >= 0", contractx.ErrValidation)
	}
	return nil
}

type Option func(*Service)

func WithStore(store statex.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

func WithRecorder(recorder contractx.OutcomeRecorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service drives the decide/act loop for one user request at a time. It
// holds no per-run state and may serve concurrent runs.
type Service struct {
	completion contractx.CompletionClient
	dispatcher contractx.ActionDispatcher
	store      statex.Store
	recorder   contractx.OutcomeRecorder
	cfg        Config
	logger     zerolog.Logger

	sessionRunner compose.Runnable[sessionInput, *sessionState]

	now   func() time.Time
	newID func() string
}

func New(
	completion contractx.CompletionClient,
	dispatcher contractx.ActionDispatcher,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	if completion == nil {
		return nil, errors.New("completion client is required")
	}
	if dispatcher == nil {
		return nil, errors.New("action dispatcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		completion: completion,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     zerolog.Nop(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.store == nil {
		s.store = statex.NewMemoryStore()
	}

	runner, err := s.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.sessionRunner = runner

	return s, nil
}

// Run serves one request with no prior history. Nothing is persisted.
func (s *Service) Run(ctx context.Context, input string) (contractx.RunResult, error) {
	return s.run(ctx, "", nil, input)
}

// RunWithHistory serves one request on top of turns the caller retained from
// earlier runs. prior is not modified.
func (s *Service) RunWithHistory(ctx context.Context, prior []contractx.Turn, input string) (contractx.RunResult, error) {
	return s.run(ctx, "", prior, input)
}

// HandleMessage serves one request in a stored session: the transcript is
// loaded, extended by the run and saved back, also when the run failed.
func (s *Service) HandleMessage(ctx context.Context, sessionID string, text string) (contractx.RunResult, error) {
	out, err := s.sessionRunner.Invoke(ctx, sessionInput{
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		return contractx.RunResult{}, err
	}
	if out.ReqErr != nil {
		return contractx.RunResult{}, out.ReqErr
	}
	return out.Result, errors.Join(out.RunErr, out.SaveErr)
}

func (s *Service) verbose() *zerolog.Event {
	if s.cfg.Verbose {
		return s.logger.Info()
	}
	return s.logger.Debug()
}

func validateInput(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("%w: user input cannot be empty", contractx.ErrInvalidInput)
	}
	return trimmed, nil
}
