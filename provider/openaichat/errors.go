package openaichat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go/option"
	"github.com/rhettg/agentloop"
)

const snippetLen = 200

type errorBody struct {
	Error json.RawMessage `json:"error"`
}

// categorize sits directly on the HTTP transport and turns every failed
// exchange into a categorized *agentloop.Error. Successful bodies are handed
// back to the SDK untouched.
func (p *Adapter) categorize(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	res, err := next(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, agentloop.WrapError(agentloop.KindTransport, p.name, "request failed", err)
	}

	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, agentloop.WrapError(agentloop.KindTransport, p.name, "failed reading response body", err)
	}

	if res.StatusCode >= 400 {
		e := agentloop.NewError(agentloop.KindProviderHTTP, p.name, httpErrorMessage(res.StatusCode, body))
		e.StatusCode = res.StatusCode
		return nil, e
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return nil, agentloop.NewError(agentloop.KindMalformedResponse, p.name,
			fmt.Sprintf("invalid JSON: %s", snippet(body)))
	}

	if len(eb.Error) > 0 && !bytes.Equal(eb.Error, []byte("null")) {
		return nil, agentloop.NewError(agentloop.KindProviderApplication, p.name, errorMessage(eb.Error))
	}

	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.Header.Set("Content-Type", "application/json")

	return res, nil
}

// httpErrorMessage prefers the provider's own error.message. A JSON body
// without one yields only the status; other bodies are quoted.
func httpErrorMessage(status int, body []byte) string {
	msg := fmt.Sprintf("HTTP %d", status)

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if m := providerMessage(eb.Error); m != "" {
			return m
		}
		return msg
	}

	if s := snippet(body); s != "" {
		msg += ": " + s
	}
	return msg
}

// providerMessage extracts message from an error object. Some compatible
// servers send a bare string instead.
func providerMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return ""
}

// errorMessage is providerMessage falling back to the raw JSON.
func errorMessage(raw json.RawMessage) string {
	if m := providerMessage(raw); m != "" {
		return m
	}
	return snippet(raw)
}

// snippet trims body to at most snippetLen bytes without splitting a rune.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= snippetLen {
		return s
	}

	cut := snippetLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
