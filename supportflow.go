// Package supportflow provides a high-level façade over the dialogue engine
// and its services (sessions, knowledge search, turn log & logging) enabling
// rapid construction of multi-stage support conversation services. Most
// applications interact with this package by:
//  1. Creating a SupportFlow via New() with a model and a case searcher
//     (optionally overriding the default in-memory services)
//  2. Processing user turns asynchronously (Process) or synchronously (Chat)
//
// The façade delegates orchestration to engine.Engine while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply durable store
// implementations and a structured logger.
package supportflow

import (
	"context"

	"github.com/voclabs/supportflow/config"
	"github.com/voclabs/supportflow/core"
	"github.com/voclabs/supportflow/engine"
	"github.com/voclabs/supportflow/logging"
	"github.com/voclabs/supportflow/model"
	"github.com/voclabs/supportflow/session"
	"github.com/voclabs/supportflow/turnlog"
)

// Options configures the SupportFlow instance.
type Options struct {
	// Config is the conversation configuration (prompts, thresholds,
	// budgets, fallback responses). Defaults to config.Default().
	Config *config.Config

	// Stores (default to in-memory implementations if not provided).
	SessionStore core.SessionStore
	TurnLog      core.TurnLog

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// SupportFlow is the high-level façade aggregating the engine and services.
type SupportFlow struct {
	opts   Options
	engine *engine.Engine
}

// New creates a SupportFlow over a model and a knowledge searcher. Any unset
// service is initialized with an in-memory implementation.
func New(m model.Model, searcher core.CaseSearcher, optFns ...func(o *Options)) *SupportFlow {
	opts := Options{
		Config:       config.Default(),
		SessionStore: session.NewInMemoryStore(),
		TurnLog:      turnlog.NewInMemoryLog(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	eng := engine.New(m, searcher, func(o *engine.Options) {
		o.Config = opts.Config
		o.Store = opts.SessionStore
		o.TurnLog = opts.TurnLog
		o.Logger = opts.Logger
	})

	return &SupportFlow{opts: opts, engine: eng}
}

// Engine exposes the underlying engine for advanced wiring (HTTP server,
// custom streaming).
func (sf *SupportFlow) Engine() *engine.Engine { return sf.engine }

// Process starts an asynchronous turn returning event and error channels.
func (sf *SupportFlow) Process(ctx context.Context, sessionID, message string) (<-chan engine.Event, <-chan error) {
	return sf.engine.Process(ctx, engine.Request{SessionID: sessionID, Message: message})
}

// Chat is a synchronous helper that drains the event stream and returns the
// terminal outcome.
func (sf *SupportFlow) Chat(ctx context.Context, sessionID, message string) (*engine.Result, error) {
	return sf.engine.Respond(ctx, engine.Request{SessionID: sessionID, Message: message})
}
