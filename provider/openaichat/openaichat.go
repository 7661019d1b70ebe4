package openaichat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rhettg/agentloop"
)

const (
	Name           = "openai"
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-5-nano"
)

// Provider specific Config keys.
const (
	ConfigTemperature = "temperature"
	ConfigMaxTokens   = "maxTokens"
	ConfigHeaders     = "headers"
)

type CreateCompletionFn func(context.Context, openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
type MiddlewareFunc func(context.Context, openai.ChatCompletionNewParams, CreateCompletionFn) (*openai.ChatCompletion, error)

// HeaderFunc derives extra request headers from the call's Config.
type HeaderFunc func(cfg agentloop.Config) map[string]string

// Adapter speaks the OpenAI Chat Completions wire format. The same Adapter
// serves any compatible endpoint; see WithName and WithDefaultBaseURL.
type Adapter struct {
	name           string
	defaultBaseURL string
	defaultModel   string

	httpClient *http.Client
	headers    []HeaderFunc
	mw         []MiddlewareFunc
}

type Option func(p *Adapter)

// WithMiddleware wraps the SDK call. Middleware added later runs first.
func WithMiddleware(m MiddlewareFunc) Option {
	return func(p *Adapter) {
		p.mw = append(p.mw, m)
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Adapter) {
		p.httpClient = c
	}
}

// WithName sets the provider name reported in errors.
func WithName(name string) Option {
	return func(p *Adapter) {
		p.name = name
	}
}

func WithDefaultBaseURL(u string) Option {
	return func(p *Adapter) {
		p.defaultBaseURL = u
	}
}

func WithDefaultModel(m string) Option {
	return func(p *Adapter) {
		p.defaultModel = m
	}
}

func WithHeaders(f HeaderFunc) Option {
	return func(p *Adapter) {
		p.headers = append(p.headers, f)
	}
}

func New(opts ...Option) *Adapter {
	p := &Adapter{
		name:           Name,
		defaultBaseURL: DefaultBaseURL,
		defaultModel:   DefaultModel,
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

func (p *Adapter) Name() string {
	return p.name
}

func (p *Adapter) configError(format string, args ...any) error {
	return agentloop.NewError(agentloop.KindConfiguration, p.name, fmt.Sprintf(format, args...))
}

// endpoint returns the SDK base URL for base, which must be an absolute
// http(s) URL. The SDK appends chat/completions.
func (p *Adapter) endpoint(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", p.configError("invalid baseUrl %q: %v", base, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", p.configError("invalid baseUrl %q: must be an absolute http(s) URL", base)
	}

	return u.String() + "/v1/", nil
}

func (p *Adapter) params(cfg agentloop.Config, msgs []agentloop.Message, tdfs []agentloop.ToolDef) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(cfg.StringOr(agentloop.ConfigModel, p.defaultModel)),
		Messages: translateMessages(cfg.String(agentloop.ConfigSystem), msgs),
	}

	if len(tdfs) > 0 {
		tools, err := translateTools(tdfs)
		if err != nil {
			return params, p.configError("%v", err)
		}
		params.Tools = tools
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String("auto"),
		}
	}

	if _, ok := cfg[ConfigTemperature]; ok {
		t, ok := cfg.Float(ConfigTemperature)
		if !ok {
			return params, p.configError("%s must be a number", ConfigTemperature)
		}
		params.Temperature = openai.Float(t)
	}

	if _, ok := cfg[ConfigMaxTokens]; ok {
		m, ok := cfg.Int(ConfigMaxTokens)
		if !ok || m <= 0 {
			return params, p.configError("%s must be a positive integer", ConfigMaxTokens)
		}
		params.MaxTokens = openai.Int(int64(m))
	}

	return params, nil
}

func (p *Adapter) client(cfg agentloop.Config, apiKey, baseURL string) openai.Client {
	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithMiddleware(p.categorize),
	}

	if p.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	}

	for k, v := range cfg.StringMap(ConfigHeaders) {
		opts = append(opts, option.WithHeader(k, v))
	}

	for _, f := range p.headers {
		for k, v := range f(cfg) {
			if v != "" {
				opts = append(opts, option.WithHeader(k, v))
			}
		}
	}

	return openai.NewClient(opts...)
}

func (p *Adapter) Complete(ctx context.Context, cfg agentloop.Config, msgs []agentloop.Message, tdfs []agentloop.ToolDef) ([]agentloop.Message, error) {
	apiKey := cfg.String(agentloop.ConfigAPIKey)
	if apiKey == "" {
		return nil, p.configError("%s is required", agentloop.ConfigAPIKey)
	}

	baseURL, err := p.endpoint(cfg.StringOr(agentloop.ConfigBaseURL, p.defaultBaseURL))
	if err != nil {
		return nil, err
	}

	params, err := p.params(cfg, msgs, tdfs)
	if err != nil {
		return nil, err
	}

	client := p.client(cfg, apiKey, baseURL)

	// Assemble the middleware chain
	c := CreateCompletionFn(func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
		resp, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, p.sdkError(ctx, err)
		}
		return resp, nil
	})
	for _, m := range p.mw {
		next := c
		fm := m
		c = func(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
			return fm(ctx, params, next)
		}
	}

	resp, err := c(ctx, params)
	if err != nil {
		return nil, err
	}

	return p.translateResponse(resp)
}

// sdkError categorizes anything the SDK returns that categorize did not
// already handle.
func (p *Adapter) sdkError(ctx context.Context, err error) error {
	var aerr *agentloop.Error
	if errors.As(err, &aerr) {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		e := agentloop.WrapError(agentloop.KindProviderHTTP, p.name, fmt.Sprintf("HTTP %d", apiErr.StatusCode), err)
		e.StatusCode = apiErr.StatusCode
		return e
	}

	return agentloop.WrapError(agentloop.KindMalformedResponse, p.name, "could not decode response", err)
}

func (p *Adapter) translateResponse(resp *openai.ChatCompletion) ([]agentloop.Message, error) {
	if resp == nil || len(resp.Choices) == 0 || !resp.Choices[0].JSON.Message.Valid() {
		return nil, agentloop.NewError(agentloop.KindMalformedResponse, p.name, "empty response")
	}

	rMsg := resp.Choices[0].Message

	if len(rMsg.ToolCalls) > 0 {
		turn := make([]agentloop.Message, len(rMsg.ToolCalls))
		for i, tc := range rMsg.ToolCalls {
			args := tc.Function.Arguments
			if args == "" {
				args = "{}"
			}
			turn[i] = agentloop.ToolCall(tc.Function.Name, tc.ID, args)
		}
		return turn, nil
	}

	return []agentloop.Message{agentloop.Assistant(rMsg.Content)}, nil
}

// translateMessages maps the context onto chat messages. Adjacent ToolCall
// messages become a single assistant message carrying every call.
func translateMessages(system string, msgs []agentloop.Message) []openai.ChatCompletionMessageParamUnion {
	pMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		pMsgs = append(pMsgs, openai.SystemMessage(system))
	}

	for _, m := range msgs {
		switch m.Role() {
		case agentloop.RoleSystem:
			pMsgs = append(pMsgs, openai.SystemMessage(m.Content()))
		case agentloop.RoleUser:
			pMsgs = append(pMsgs, openai.UserMessage(m.Content()))
		case agentloop.RoleAssistant:
			pMsgs = append(pMsgs, openai.AssistantMessage(m.Content()))
		case agentloop.RoleToolResult:
			pMsgs = append(pMsgs, openai.ToolMessage(m.Content(), m.CallID()))
		case agentloop.RoleToolCall:
			args := m.ArgsText()
			if args == "" {
				args = "{}"
			}
			tc := openai.ChatCompletionMessageToolCallParam{
				ID: m.CallID(),
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      m.ToolName(),
					Arguments: args,
				},
			}

			if n := len(pMsgs); n > 0 && pMsgs[n-1].OfAssistant != nil && len(pMsgs[n-1].OfAssistant.ToolCalls) > 0 {
				pMsgs[n-1].OfAssistant.ToolCalls = append(pMsgs[n-1].OfAssistant.ToolCalls, tc)
				continue
			}

			pMsgs = append(pMsgs, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{tc},
				},
			})
		}
	}

	return pMsgs
}

func translateTools(tdfs []agentloop.ToolDef) ([]openai.ChatCompletionToolParam, error) {
	tools := make([]openai.ChatCompletionToolParam, 0, len(tdfs))
	for _, fd := range tdfs {
		params, err := parameters(fd.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", fd.Name, err)
		}

		def := shared.FunctionDefinitionParam{
			Name:       fd.Name,
			Parameters: params,
		}
		if fd.Description != "" {
			def.Description = openai.String(fd.Description)
		}

		tools = append(tools, openai.ChatCompletionToolParam{Function: def})
	}
	return tools, nil
}

// parameters converts an arbitrary schema value into the SDK's map form.
func parameters(v any) (shared.FunctionParameters, error) {
	switch t := v.(type) {
	case nil:
		return shared.FunctionParameters{}, nil
	case map[string]any:
		return shared.FunctionParameters(t), nil
	case shared.FunctionParameters:
		return t, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("parameters are not JSON encodable: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	return shared.FunctionParameters(m), nil
}
