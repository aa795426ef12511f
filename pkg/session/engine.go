package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"kubepilot/pkg/capindex"
	"kubepilot/pkg/config"
	"kubepilot/pkg/deploy"
	"kubepilot/pkg/gateway"
	"kubepilot/pkg/llm"
	"kubepilot/pkg/logx"
	"kubepilot/pkg/manifest"
	"kubepilot/pkg/metrics"
)

// Deps wires the engine to its collaborators. Everything is passed by
// reference; the engine owns no global state.
type Deps struct {
	Store     *Store
	Gateway   *gateway.Gateway
	Index     *capindex.Index
	Client    llm.LLMClient
	Validator *manifest.Validator
	Deployer  *deploy.Deployer
	Metrics   *metrics.Registry // optional
	Config    *config.Config
}

// CreateRequest starts a new workflow session.
type CreateRequest struct {
	Kind   WorkflowKind
	Intent string
	// AutoApprove skips the human checkpoint when the computed risk
	// score stays below ConfidenceThreshold.
	AutoApprove         bool
	ConfidenceThreshold float64
}

// Input carries caller-supplied data into an Advance call. All fields
// are optional; phases that need one and don't get it halt with
// ErrAwaitingInput.
type Input struct {
	// Message adds free-form detail, e.g. the observed problem.
	Message string
	// Answers respond to the session's outstanding questions by ID.
	Answers map[string]string
	// Approve resolves an AwaitingApproval checkpoint.
	Approve *bool
}

// handler runs one phase's work and names the next phase with a cause.
type handler func(ctx context.Context, s *Session, in Input) (Phase, string, error)

// Engine drives sessions through their phase graphs. Multiple sessions
// advance fully in parallel; within one session transitions are
// serialized by an in-flight guard that fails fast rather than queue.
type Engine struct {
	store     *Store
	gateway   *gateway.Gateway
	index     *capindex.Index
	client    llm.LLMClient
	validator *manifest.Validator
	deployer  *deploy.Deployer
	metrics   *metrics.Registry
	logger    *logx.Logger

	namespace     string
	workDir       string
	ttl           time.Duration
	deployTimeout time.Duration
	maxToolIters  int
	maxRepairIter int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewEngine creates the engine from its dependency set.
func NewEngine(d Deps) (*Engine, error) {
	switch {
	case d.Store == nil:
		return nil, fmt.Errorf("engine requires a session store")
	case d.Gateway == nil:
		return nil, fmt.Errorf("engine requires a tool gateway")
	case d.Index == nil:
		return nil, fmt.Errorf("engine requires a capability index")
	case d.Client == nil:
		return nil, fmt.Errorf("engine requires a model client")
	case d.Validator == nil:
		return nil, fmt.Errorf("engine requires a manifest validator")
	case d.Deployer == nil:
		return nil, fmt.Errorf("engine requires a deployer")
	case d.Config == nil:
		return nil, fmt.Errorf("engine requires configuration")
	}

	workDir := d.Config.Sessions.WorkDir
	if workDir == "" {
		workDir = filepath.Join(config.ConfigDirName, "sessions")
	}

	return &Engine{
		store:         d.Store,
		gateway:       d.Gateway,
		index:         d.Index,
		client:        d.Client,
		validator:     d.Validator,
		deployer:      d.Deployer,
		metrics:       d.Metrics,
		logger:        logx.NewLogger("engine"),
		namespace:     d.Config.Cluster.Namespace,
		workDir:       workDir,
		ttl:           d.Config.SessionTTL(),
		deployTimeout: d.Config.ReadinessTimeout(),
		maxToolIters:  d.Config.MaxToolIterations(),
		maxRepairIter: d.Config.MaxRepairIterations(),
		inflight:      make(map[string]struct{}),
	}, nil
}

// CreateSession persists a new session in its initial phase. No model
// or cluster work happens until the first Advance.
func (e *Engine) CreateSession(ctx context.Context, req CreateRequest) (*Session, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("unknown workflow kind %q", req.Kind)
	}
	if req.Intent == "" {
		return nil, fmt.Errorf("intent cannot be empty")
	}

	now := time.Now().UTC()
	s := &Session{
		ID:    "sess-" + uuid.NewString(),
		Kind:  req.Kind,
		Phase: InitialPhase(req.Kind),
		Context: Context{
			Intent:              req.Intent,
			AutoApprove:         req.AutoApprove,
			ConfidenceThreshold: req.ConfidenceThreshold,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(e.ttl),
	}

	if err := e.store.Save(ctx, s); err != nil {
		return nil, err
	}
	e.logger.Info("created %s session %s in %s", s.Kind, s.ID, s.Phase)
	e.reportLiveSessions(ctx)
	return s, nil
}

// GetSession returns a session by ID. Reads take no transition guard
// and may proceed while an Advance is in flight.
func (e *Engine) GetSession(ctx context.Context, id string) (*Session, error) {
	return e.store.Load(ctx, id)
}

// ListSessions returns all unexpired sessions, newest first.
func (e *Engine) ListSessions(ctx context.Context) ([]*Session, error) {
	return e.store.List(ctx)
}

// DeleteSession removes a session.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	found, err := e.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.reportLiveSessions(ctx)
	return nil
}

// Advance runs exactly one phase handler for the session and records
// the resulting transition. A second concurrent Advance on the same
// session fails fast with ErrBusy. Handlers that need caller input
// return ErrAwaitingInput and leave the session unchanged. Any other
// handler failure moves the session to Failed with the cause recorded;
// progress already in history stays.
func (e *Engine) Advance(ctx context.Context, id string, in Input) (*Session, error) {
	if !e.acquire(id) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	defer e.release(id)

	s, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Phase.Terminal() {
		return s, fmt.Errorf("%w: %s is %s", ErrTerminal, id, s.Phase)
	}

	h := e.handlerFor(s.Kind, s.Phase)
	if h == nil {
		return s, fmt.Errorf("no handler for %s phase %s", s.Kind, s.Phase)
	}

	next, cause, err := h(ctx, s, in)
	if err != nil {
		if errors.Is(err, ErrAwaitingInput) {
			return s, err
		}
		e.fail(ctx, s, err)
		return s, err
	}

	from := s.Phase
	if err := s.transitionTo(next, cause, nil); err != nil {
		e.fail(ctx, s, err)
		return s, err
	}
	if err := e.store.Save(ctx, s); err != nil {
		return s, err
	}

	e.logger.Info("session %s: %s -> %s (%s)", s.ID, from, s.Phase, cause)
	if e.metrics != nil {
		e.metrics.RecordPhaseTransition(string(s.Kind), string(from), string(s.Phase))
	}
	return s, nil
}

// fail drives the session to the terminal Failed phase with the cause
// attached to the transition and context. Partial progress already in
// history is kept verbatim.
func (e *Engine) fail(ctx context.Context, s *Session, cause error) {
	from := s.Phase
	s.Context.Failure = cause.Error()
	if err := s.transitionTo(PhaseFailed, "error", map[string]any{"error": cause.Error()}); err != nil {
		e.logger.Error("session %s: cannot record failure from %s: %v", s.ID, from, err)
		return
	}
	if err := e.store.Save(ctx, s); err != nil {
		e.logger.Error("session %s: failed to persist Failed state: %v", s.ID, err)
	}
	e.logger.Warn("session %s failed in %s: %v", s.ID, from, cause)
	if e.metrics != nil {
		e.metrics.RecordPhaseTransition(string(s.Kind), string(from), string(PhaseFailed))
	}
}

func (e *Engine) handlerFor(kind WorkflowKind, phase Phase) handler {
	if kind == KindRecommendation {
		switch phase {
		case PhaseClarifying:
			return e.handleClarifying
		case PhaseSolutionAssembled:
			return e.handleSolutionAssembled
		case PhaseAwaitingAnswers:
			return e.handleAwaitingAnswers
		case PhaseManifestGenerated:
			return e.handleManifestGenerated
		}
		return nil
	}
	switch phase {
	case PhaseInvestigating:
		return e.handleInvestigating
	case PhaseAnalyzed:
		return e.handleAnalyzed
	case PhaseAwaitingApproval:
		return e.handleAwaitingApproval
	case PhaseRemediating:
		return e.handleRemediating
	case PhaseExecuted:
		return e.handleExecuted
	}
	return nil
}

func (e *Engine) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[id]; busy {
		return false
	}
	e.inflight[id] = struct{}{}
	return true
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}

func (e *Engine) reportLiveSessions(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	sessions, err := e.store.List(ctx)
	if err != nil {
		return
	}
	e.metrics.SetLiveSessions(len(sessions))
}
