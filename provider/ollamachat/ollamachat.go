package ollamachat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/jmorganca/ollama/api"
	"github.com/rhettg/agentloop"
)

const (
	Name         = "ollama"
	DefaultModel = "mistral"
)

type GenerateFunc func(context.Context, *api.GenerateRequest) (api.GenerateResponse, error)
type MiddlewareFunc func(context.Context, *api.GenerateRequest, GenerateFunc) (api.GenerateResponse, error)

func newGenerateFunc(c *api.Client) GenerateFunc {
	return func(ctx context.Context, req *api.GenerateRequest) (api.GenerateResponse, error) {
		r := make(chan api.GenerateResponse, 1)

		handleResponse := func(resp api.GenerateResponse) error {
			if !resp.Done {
				return errors.New("streaming response not supported")
			}

			r <- resp
			close(r)
			return nil
		}

		err := c.Generate(ctx, req, handleResponse)
		if err != nil {
			return api.GenerateResponse{}, err
		}

		select {
		case resp := <-r:
			return resp, nil
		default:
			return api.GenerateResponse{}, errors.New("no response")
		}
	}
}

// Adapter drives instruct models through Ollama's raw generate endpoint. It
// has no tool support: tools or tool messages are rejected before any
// request is made. The server address comes from OLLAMA_HOST.
type Adapter struct {
	client *api.Client

	mw []MiddlewareFunc
}

type Option func(p *Adapter)

func WithMiddleware(m MiddlewareFunc) Option {
	return func(p *Adapter) {
		p.mw = append(p.mw, m)
	}
}

// WithClient uses c instead of a client built from the environment.
func WithClient(c *api.Client) Option {
	return func(p *Adapter) {
		p.client = c
	}
}

func New(opts ...Option) *Adapter {
	p := &Adapter{}

	for _, o := range opts {
		o(p)
	}

	return p
}

func configError(format string, args ...any) error {
	return agentloop.NewError(agentloop.KindConfiguration, Name, fmt.Sprintf(format, args...))
}

type formatDialogFn func([]agentloop.Message) (string, error)

func dialogFormatter(model string) (formatDialogFn, bool) {
	switch model {
	case "mistral", "mistral:instruct":
		return formatDialogMistral, true
	case "llama", "llama2", "llama2:instruct":
		return formatDialogLlama, true
	}
	return nil, false
}

// formatDialogLlama formats the conversation into a document that an LLM will understand
//
// This is based on the llama2 python code in https://github.com/facebookresearch/llama/blob/ef351e9cd9496c579bf9f2bb036ef11bdc5ca3d2/llama/generation.py#L284-L395
func formatDialogLlama(msgs []agentloop.Message) (string, error) {
	content := strings.Builder{}

	system := ""
	for ndx, m := range msgs {
		// Assistant (replies) will have been added already.
		if m.Role() == agentloop.RoleAssistant {
			continue
		}

		// System messages will be included in the very first instruction.
		if m.Role() == agentloop.RoleSystem {
			system = m.Content()
			continue
		}

		if m.Role() != agentloop.RoleUser {
			return "", fmt.Errorf("unsupported role %s", m.Role())
		}

		content.WriteString("[INST] ")
		if system != "" {
			content.WriteString("<<SYS>>\n")
			content.WriteString(strings.TrimSpace(system))
			content.WriteString("\n<</SYS>>\n\n")
			system = ""
		}

		content.WriteString(strings.TrimSpace(m.Content()))

		content.WriteString(" [/INST]")

		// Do we have an answer?
		if ndx < len(msgs)-1 && msgs[ndx+1].Role() == agentloop.RoleAssistant {
			content.WriteString(" ")
			content.WriteString(strings.TrimSpace(msgs[ndx+1].Content()))
			content.WriteString(" ")
		}
	}

	return content.String(), nil
}

// formatDialogMistral formats the conversation into a document that an LLM will understand
//
// This is based on the prompt format documented in https://docs.mistral.ai/llm/mistral-instruct-v0.1
func formatDialogMistral(msgs []agentloop.Message) (string, error) {
	content := strings.Builder{}

	system := ""
	for ndx, m := range msgs {
		// Assistant (replies) will have been added already.
		if m.Role() == agentloop.RoleAssistant {
			continue
		}

		// System messages will be included in the very first instruction.
		if m.Role() == agentloop.RoleSystem {
			system = m.Content()
			continue
		}

		if m.Role() != agentloop.RoleUser {
			return "", fmt.Errorf("unsupported role %s", m.Role())
		}

		content.WriteString("[INST] ")
		if system != "" {
			content.WriteString(strings.TrimSpace(system))
			content.WriteString("\n\n")
			system = ""
		}

		content.WriteString(strings.TrimSpace(m.Content()))

		content.WriteString(" [/INST]")

		// Every answer is closed with an end of sequence token.
		if ndx < len(msgs)-1 && msgs[ndx+1].Role() == agentloop.RoleAssistant {
			content.WriteString(" ")
			content.WriteString(strings.TrimSpace(msgs[ndx+1].Content()))
			content.WriteString("</s>")
		}
	}

	return content.String(), nil
}

func (p *Adapter) Complete(ctx context.Context, cfg agentloop.Config, msgs []agentloop.Message, tdfs []agentloop.ToolDef) ([]agentloop.Message, error) {
	if len(tdfs) > 0 {
		return nil, configError("tools are not supported")
	}

	for _, m := range msgs {
		if m.Role() == agentloop.RoleToolCall || m.Role() == agentloop.RoleToolResult {
			return nil, configError("%s messages are not supported", m.Role())
		}
	}

	model := cfg.StringOr(agentloop.ConfigModel, DefaultModel)
	formatDialog, ok := dialogFormatter(model)
	if !ok {
		return nil, configError("unsupported model %q", model)
	}

	if system := cfg.String(agentloop.ConfigSystem); system != "" {
		msgs = append([]agentloop.Message{agentloop.System(system)}, msgs...)
	}

	content, err := formatDialog(msgs)
	if err != nil {
		return nil, configError("%v", err)
	}

	client := p.client
	if client == nil {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, configError("invalid OLLAMA_HOST: %v", err)
		}
	}

	stream := false
	req := &api.GenerateRequest{
		Prompt: content,
		Model:  model,
		Stream: &stream,
		Raw:    true,
	}

	// Assemble the middleware chain
	gc := newGenerateFunc(client)
	for _, m := range p.mw {
		next := gc
		fm := m
		gc = func(ctx context.Context, req *api.GenerateRequest) (api.GenerateResponse, error) {
			return fm(ctx, req, next)
		}
	}

	resp, err := gc(ctx, req)
	if err != nil {
		return nil, categorize(ctx, err)
	}

	cleanResp := strings.TrimSpace(resp.Response)
	// Sometimes we see a EOS token to begin the response, remove that just in case
	cleanResp = strings.TrimPrefix(cleanResp, "</s>")

	return []agentloop.Message{agentloop.Assistant(cleanResp)}, nil
}

func categorize(ctx context.Context, err error) error {
	var aerr *agentloop.Error
	if errors.As(err, &aerr) {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var se api.StatusError
	if errors.As(err, &se) {
		msg := se.ErrorMessage
		if msg == "" {
			msg = se.Status
		}
		e := agentloop.NewError(agentloop.KindProviderHTTP, Name, msg)
		e.StatusCode = se.StatusCode
		return e
	}

	var uerr *url.Error
	var nerr net.Error
	if errors.As(err, &uerr) || errors.As(err, &nerr) {
		return agentloop.WrapError(agentloop.KindTransport, Name, "request failed", err)
	}

	return agentloop.WrapError(agentloop.KindProviderApplication, Name, "generate failed", err)
}
