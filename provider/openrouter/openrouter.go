// Package openrouter adapts OpenRouter's OpenAI compatible chat completions
// endpoint.
package openrouter

import (
	"github.com/rhettg/agentloop"
	"github.com/rhettg/agentloop/provider/openaichat"
)

const (
	Name           = "openrouter"
	DefaultBaseURL = "https://openrouter.ai/api"
)

// Attribution Config keys, sent as HTTP-Referer and X-Title.
const (
	ConfigHTTPReferer = "httpReferer"
	ConfigTitle       = "title"
)

func attribution(cfg agentloop.Config) map[string]string {
	return map[string]string{
		"HTTP-Referer": cfg.String(ConfigHTTPReferer),
		"X-Title":      cfg.String(ConfigTitle),
	}
}

// New returns an openaichat.Adapter preconfigured for OpenRouter. opts are
// applied after the OpenRouter defaults.
func New(opts ...openaichat.Option) *openaichat.Adapter {
	base := []openaichat.Option{
		openaichat.WithName(Name),
		openaichat.WithDefaultBaseURL(DefaultBaseURL),
		openaichat.WithHeaders(attribution),
	}

	return openaichat.New(append(base, opts...)...)
}
