package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voclabs/supportflow/config"
	"github.com/voclabs/supportflow/core"
	"github.com/voclabs/supportflow/logging"
	"github.com/voclabs/supportflow/model"
	"github.com/voclabs/supportflow/retry"
	"github.com/voclabs/supportflow/session"
	"github.com/voclabs/supportflow/turnlog"
)

// Request errors surfaced before the pipeline starts.
var (
	ErrMissingSessionID = errors.New("session id is required")
	ErrEmptyMessage     = errors.New("message is empty")
)

// Request is one user message addressed to a session. RequestID is optional;
// when set, a repeated id replays the committed reply instead of re-running
// the pipeline.
type Request struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// Store persists sessions between turns.
	Store core.SessionStore
	// TurnLog receives the append-only analytics record per turn.
	TurnLog core.TurnLog
	// Logger receives structured engine telemetry.
	Logger logging.Logger
	// Config is the conversation configuration.
	Config *config.Config
	// Retry bounds transport retries against the model provider.
	Retry retry.Policy
	// EventBufferSize sets channel buffering for stream events.
	EventBufferSize int
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine drives the four-stage dialogue pipeline. Public methods are safe for
// concurrent use; turns for the same session id serialize on the store lock.
type Engine struct {
	model    model.Model
	searcher core.CaseSearcher
	store    core.SessionStore
	turnLog  core.TurnLog
	logger   logging.Logger
	cfg      *config.Config
	retry    retry.Policy
	bufSize  int
	now      func() time.Time
}

// New constructs an Engine over a model and a knowledge store, with optional
// overrides.
func New(m model.Model, searcher core.CaseSearcher, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Store:           session.NewInMemoryStore(),
		TurnLog:         turnlog.NewInMemoryLog(),
		Logger:          logging.NoOpLogger{},
		Config:          config.Default(),
		Retry:           retry.DefaultPolicy(),
		EventBufferSize: 16,
		Clock:           time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		model:    m,
		searcher: searcher,
		store:    opts.Store,
		turnLog:  opts.TurnLog,
		logger:   opts.Logger,
		cfg:      opts.Config,
		retry:    opts.Retry,
		bufSize:  opts.EventBufferSize,
		now:      opts.Clock,
	}
}

// Process runs one turn. It returns a stream of events (one started, zero or
// more processing, one terminal) and an error channel for non-recoverable
// failures. Recoverable pipeline failures terminate the stream with an error
// event carrying the deterministic fallback reply; they are committed
// outcomes, not transport errors.
func (e *Engine) Process(ctx context.Context, req Request) (<-chan Event, <-chan error) {
	events := make(chan Event, e.bufSize)
	errCh := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errCh)
		if err := e.run(ctx, req, events); err != nil {
			errCh <- err
		}
	}()
	return events, errCh
}

// Respond runs one turn and collects the terminal outcome.
func (e *Engine) Respond(ctx context.Context, req Request) (*Result, error) {
	events, errCh := e.Process(ctx, req)
	var res *Result
	for ev := range events {
		if ev.Type == EventCompleted || ev.Type == EventError {
			res = &Result{Response: ev.Response, Metadata: *ev.Metadata}
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("pipeline produced no terminal event")
	}
	return res, nil
}

// outcome is the internal terminal result of one pipeline run.
type outcome struct {
	response   string
	stage      core.Stage
	kind       core.Kind // non-empty when the turn ended on a fallback
	confidence float64
	matchedIDs []string
}

// transportError reports whether the failure kind streams as an error event.
// Other kinds ride a completed event since their reply is a regular dialogue
// move (a clarifying question, an escalation handoff).
func (o outcome) transportError() bool {
	switch o.kind {
	case core.KindParseError, core.KindModelUnavailable, core.KindSearchUnavailable, core.KindTimeout:
		return true
	}
	return false
}

func (e *Engine) run(ctx context.Context, req Request, events chan<- Event) error {
	if req.SessionID == "" {
		return ErrMissingSessionID
	}
	msg, err := sanitize(req.Message, e.cfg.Management.MaxUserMessageLength)
	if err != nil {
		return err
	}

	release := e.store.Lock(req.SessionID)
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Management.RequestTimeout())
	defer cancel()

	sess, err := e.store.Load(ctx, req.SessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", req.SessionID, err)
	}

	log := e.logger
	if el, ok := log.(*logging.EngineLogger); ok {
		log = el.WithSession(sess.ID, core.NewID())
	}

	events <- Event{Type: EventStarted}

	// Idempotent replay: a repeated request id returns the committed reply
	// without mutating the session.
	if req.RequestID != "" && req.RequestID == sess.LastRequestID {
		md := buildMetadata(sess, outcome{})
		md.Replayed = true
		log.Info("replayed committed reply", "request_id", req.RequestID)
		events <- Event{Type: EventCompleted, Response: sess.LastResponse, Metadata: &md}
		return nil
	}

	now := e.now()
	var notice string
	switch {
	case sess.Status == core.StatusActive && sess.TurnCount > 0 && sess.IdleSince(now, e.cfg.Management.SessionTimeout()):
		notice = e.cfg.Fallbacks.SessionTimeout
		// The expired conversation closes as timed_out before the restart so
		// the terminal state is visible in persisted data.
		sess.TransitionTo(core.StatusTimedOut)
		if err := e.store.Save(ctx, sess); err != nil {
			log.Warn("timed out snapshot save failed", "error", err)
		}
		log.Info("session expired, restarted", "idle_timeout", e.cfg.Management.SessionTimeout())
		sess.ResetExpired(now)
	case sess.Status.Terminal():
		log.Info("terminal session restarted", "previous_status", string(sess.Status))
		sess.ResetExpired(now)
	}
	sess.Touch(now)

	userTurn := core.NewUserTurn(sess.ID, msg)
	sess.AcceptUserTurn(userTurn, e.cfg.Management.ContextRetentionTurns)

	// Snapshot after the user turn is accepted: a request timeout commits
	// the turn records on this snapshot and drops partial stage state.
	base := sess.Clone()

	var out outcome
	if sess.TurnCount >= e.cfg.Management.MaxConversationTurns {
		sess.Escalate("conversation turn budget exhausted")
		out = outcome{
			response: e.cfg.Fallbacks.MaxTurnsReached,
			kind:     core.KindMaxTurnsExceeded,
		}
	} else {
		out = e.pipeline(ctx, sess, msg, events, log)
	}

	// A client cancellation abandons the turn: in-flight calls are dropped
	// and nothing commits, so persisted state stays as of the last committed
	// turn. A request deadline instead commits the timeout fallback on the
	// pre-pipeline snapshot.
	if errors.Is(ctx.Err(), context.Canceled) {
		sess.TransitionTo(core.StatusAbandoned)
		log.Info("client canceled mid-pipeline, turn abandoned", "status", string(sess.Status))
		return context.Canceled
	}
	if out.kind == core.KindTimeout {
		sess = base
	}

	response := out.response
	if notice != "" {
		response = notice + "\n\n" + response
	}

	assistant := core.NewAssistantTurn(sess.ID, response, out.stage, core.TurnMeta{
		Confidence:     out.confidence,
		RAGUsed:        sess.RAGUsed,
		MatchedCaseIDs: out.matchedIDs,
	})
	sess.AppendAssistantTurn(assistant, e.cfg.Management.ContextRetentionTurns)
	sess.LastRequestID = req.RequestID
	sess.LastResponse = response

	commitCtx, commitCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer commitCancel()
	if err := e.store.Save(commitCtx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}

	e.appendTurnRecord(sess, userTurn, response, out)

	md := buildMetadata(sess, out)
	if out.transportError() {
		events <- Event{Type: EventError, Stage: out.stage, Response: response, Metadata: &md, Error: string(out.kind)}
		return nil
	}
	events <- Event{Type: EventCompleted, Stage: out.stage, Response: response, Metadata: &md}
	return nil
}

// pipeline runs the stages in order against the private session snapshot.
func (e *Engine) pipeline(ctx context.Context, sess *core.Session, msg string, events chan<- Event, log logging.Logger) outcome {
	if sess.CurrentIssueType != "" {
		events <- Event{Type: EventProcessing, Stage: core.StageContinuity}
		start := time.Now()
		cont := e.checkContinuity(ctx, sess, msg, log)
		e.logStage(log, core.StageContinuity, start, outcome{})
		if !cont {
			log.Info("topic changed, issue state reset", "previous_issue", sess.CurrentIssueType)
			sess.ResetIssue()
		}
	}

	if sess.CurrentIssueType == "" {
		events <- Event{Type: EventProcessing, Stage: core.StageClassification}
		start := time.Now()
		out, done := e.classify(ctx, sess, msg, log)
		e.logStage(log, core.StageClassification, start, out)
		if done {
			return out
		}
	}

	events <- Event{Type: EventProcessing, Stage: core.StageNarrowing}
	start := time.Now()
	nr, out, done := e.narrow(ctx, sess, msg, log)
	e.logStage(log, core.StageNarrowing, start, out)
	if done {
		return out
	}

	events <- Event{Type: EventProcessing, Stage: core.StageFormulation}
	start = time.Now()
	if nr.resolved != nil {
		out = e.formulateSolution(ctx, sess, msg, nr, log)
	} else {
		out = e.formulateQuestion(ctx, sess, msg, nr, log)
	}
	e.logStage(log, core.StageFormulation, start, out)
	return out
}

// logStage emits per-stage latency telemetry when the configured logger
// supports it.
func (e *Engine) logStage(log logging.Logger, stage core.Stage, start time.Time, out outcome) {
	el, ok := log.(*logging.EngineLogger)
	if !ok {
		return
	}
	var err error
	if out.kind != "" {
		err = core.NewFailure(out.kind, stage, nil)
	}
	el.LogStage(string(stage), time.Since(start), err)
}

// failAttempt records a stage failure and resolves it into a fallback or a
// forced escalation once the failure budget is spent.
func (e *Engine) failAttempt(sess *core.Session, stage core.Stage, kind core.Kind, log logging.Logger) outcome {
	n := sess.RecordFailure(stage)
	log.Warn("stage attempt failed", "stage", string(stage), "kind", string(kind), "failed_attempts", n)
	if n >= e.cfg.Management.EscalationAfterFailedAttempts {
		sess.Escalate(fmt.Sprintf("%d failed attempts at %s", n, stage))
		return outcome{response: e.cfg.Fallbacks.Escalation, stage: stage, kind: kind}
	}
	return outcome{response: e.cfg.Fallbacks.For(kind), stage: stage, kind: kind}
}

// rejectAttempt counts one rejected in-turn attempt against the stage failure
// budget. It returns a forced-escalation outcome once the budget is spent;
// otherwise the caller retries or falls back on its own.
func (e *Engine) rejectAttempt(sess *core.Session, stage core.Stage, kind core.Kind, log logging.Logger) (outcome, bool) {
	n := sess.RecordFailure(stage)
	log.Warn("stage attempt rejected", "stage", string(stage), "kind", string(kind), "failed_attempts", n)
	if n >= e.cfg.Management.EscalationAfterFailedAttempts {
		sess.Escalate(fmt.Sprintf("%d failed attempts at %s", n, stage))
		return outcome{response: e.cfg.Fallbacks.Escalation, stage: stage, kind: kind}, true
	}
	return outcome{}, false
}

// callModel runs one structured completion with transport retries. Parse
// errors and context expiry do not retry. Failures come back as *core.Failure
// attributed to the calling stage, so callers branch on the kind.
func (e *Engine) callModel(ctx context.Context, stage core.Stage, prompt string, out any, log logging.Logger) error {
	start := time.Now()
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		cerr := model.CallStructured(ctx, e.model, model.Request{
			System:   e.cfg.Flow.JSONInstruction,
			Messages: []model.Message{{Role: core.RoleUser, Text: prompt}},
		}, out)
		var pe *model.ParseError
		if errors.As(cerr, &pe) {
			return retry.NonRetryable(cerr)
		}
		if errors.Is(cerr, context.Canceled) || errors.Is(cerr, context.DeadlineExceeded) {
			return retry.NonRetryable(cerr)
		}
		return cerr
	})
	if el, ok := log.(*logging.EngineLogger); ok {
		el.LogModelCall(e.model.Info().Name, time.Since(start), err == nil, err)
	}
	if err != nil {
		return core.NewFailure(transportKind(err), stage, err)
	}
	return nil
}

// transportKind maps a raw model or store error to its failure kind.
func transportKind(err error) core.Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return core.KindTimeout
	default:
		var pe *model.ParseError
		if errors.As(err, &pe) {
			return core.KindParseError
		}
		return core.KindModelUnavailable
	}
}

// callErrorKind extracts the failure kind from a stage call error.
func callErrorKind(err error) core.Kind {
	if kind, ok := core.FailureKind(err); ok {
		return kind
	}
	return transportKind(err)
}

// appendTurnRecord writes the analytics record off the request path. Failures
// are logged and dropped; the dialogue never waits on the log.
func (e *Engine) appendTurnRecord(sess *core.Session, userTurn core.Turn, response string, out outcome) {
	rec := core.TurnRecord{
		ID:               userTurn.ID,
		SessionID:        sess.ID,
		Timestamp:        userTurn.Timestamp,
		TurnNumber:       sess.TurnCount,
		UserMessage:      userTurn.Text,
		BotResponse:      response,
		CurrentIssue:     sess.CurrentIssueType,
		CurrentCase:      sess.ResolvedCaseID,
		Confidence:       out.confidence,
		RAGUsed:          sess.RAGUsed,
		MatchedCaseIDs:   out.matchedIDs,
		Stage:            out.stage,
		Escalated:        sess.Status == core.StatusEscalated,
		EscalationReason: sess.EscalationReason,
		QuestionsAsked:   sess.QuestionsAsked(),
		ErrorKind:        string(out.kind),
	}
	if sess.Status.Terminal() {
		summary := sess.Summarize()
		rec.Summary = &summary
	}
	go func() {
		logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.turnLog.Append(logCtx, rec); err != nil {
			e.logger.Warn("turn log append failed", "session_id", rec.SessionID, "error", err)
		}
	}()
}

func buildMetadata(sess *core.Session, out outcome) Metadata {
	return Metadata{
		SessionID:        sess.ID,
		TurnCount:        sess.TurnCount,
		Stage:            out.stage,
		SessionStatus:    sess.Status,
		CurrentIssueType: sess.CurrentIssueType,
		ResolvedCaseID:   sess.ResolvedCaseID,
		Confidence:       out.confidence,
		RAGUsed:          sess.RAGUsed,
		MatchedCaseIDs:   out.matchedIDs,
		Escalated:        sess.Status == core.StatusEscalated,
		EscalationReason: sess.EscalationReason,
		ErrorKind:        string(out.kind),
	}
}

// sanitize normalizes a user message: trim, drop invalid UTF-8 and control
// characters, cap the rune length.
func sanitize(msg string, maxLen int) (string, error) {
	msg = strings.ToValidUTF8(strings.TrimSpace(msg), "")
	msg = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, msg)
	if msg == "" {
		return "", ErrEmptyMessage
	}
	if maxLen > 0 {
		if runes := []rune(msg); len(runes) > maxLen {
			msg = string(runes[:maxLen])
		}
	}
	return msg, nil
}
