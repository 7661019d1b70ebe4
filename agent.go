package agentloop

import (
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rhettg/agentloop"

// Agent owns one conversation context, a tool registry and the adapter used
// to reach the model.
//
// An Agent is not meant to run concurrent invocations against the same
// context; the accessors are safe to call from other goroutines.
type Agent struct {
	adapter  Adapter
	config   Config
	registry *Registry

	mu       sync.Mutex
	messages []Message

	maxRounds int
	parallel  int

	logger *slog.Logger
	tracer trace.Tracer
}

type Option func(a *Agent)

// WithMiddleware wraps the adapter. Middleware added later runs first.
func WithMiddleware(m MiddlewareFunc) Option {
	return func(a *Agent) {
		a.adapter = m(a.adapter)
	}
}

// WithMaxRounds bounds the number of adapter calls a single Run may make.
// Zero means unbounded.
func WithMaxRounds(n int) Option {
	return func(a *Agent) {
		a.maxRounds = n
	}
}

// WithParallelTools dispatches the tool calls of one turn on up to n
// goroutines. Results are still appended in call order. n <= 1 keeps
// dispatch sequential.
func WithParallelTools(n int) Option {
	return func(a *Agent) {
		a.parallel = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Agent) {
		a.tracer = tp.Tracer(instrumentationName)
	}
}

func New(adapter Adapter, cfg Config, opts ...Option) *Agent {
	if cfg == nil {
		cfg = Config{}
	}

	a := &Agent{
		adapter:  adapter,
		config:   cfg,
		registry: NewRegistry(),
		messages: make([]Message, 0),
		logger:   slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

func (a *Agent) RegisterTool(t Tool) error {
	return a.registry.Register(t)
}

func (a *Agent) Tools() []ToolDef {
	return a.registry.Defs()
}

func (a *Agent) Config() Config {
	return a.config.Clone()
}

// Append adds messages to the persistent context, for example a System
// message before the first Run.
func (a *Agent) Append(msgs ...Message) *Agent {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.messages = append(a.messages, msgs...)
	return a
}

// Context returns a copy of the conversation so far.
func (a *Agent) Context() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	msgs := make([]Message, len(a.messages))
	copy(msgs, a.messages)
	return msgs
}

func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.messages = make([]Message, 0)
}

type callOptions struct {
	detached bool
}

type CallOption func(o *callOptions)

// WithoutAppend runs an invocation against a private copy of the context.
// Whatever happens, including failure, the Agent's context is left exactly as
// it was.
func WithoutAppend() CallOption {
	return func(o *callOptions) {
		o.detached = true
	}
}

// conversation is the context a single invocation reads and appends to:
// either the Agent's own or a private copy.
type conversation struct {
	a        *Agent
	detached bool
	private  []Message
}

func (a *Agent) conversation(opts []CallOption) *conversation {
	var co callOptions
	for _, o := range opts {
		o(&co)
	}

	c := &conversation{a: a, detached: co.detached}
	if c.detached {
		c.private = a.Context()
	}
	return c
}

func (c *conversation) append(msgs ...Message) {
	if c.detached {
		c.private = append(c.private, msgs...)
		return
	}
	c.a.Append(msgs...)
}

func (c *conversation) snapshot() []Message {
	if c.detached {
		msgs := make([]Message, len(c.private))
		copy(msgs, c.private)
		return msgs
	}
	return c.a.Context()
}
