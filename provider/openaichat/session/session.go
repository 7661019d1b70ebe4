package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/rhettg/agentloop"
	"github.com/rhettg/agentloop/provider/openaichat"
)

// SessionStore records every chat completion exchange as numbered JSON
// files: 001.params.json, 002.response.json and so on.
type SessionStore struct {
	mu          sync.Mutex
	sessionPath string
}

func NewStore(path string) *SessionStore {
	// Create a directory for data files basead on the current date and time:
	basePath := fmt.Sprintf("%s/%s", path, time.Now().Format("20060102-150405"))

	return &SessionStore{
		sessionPath: basePath,
	}
}

func (s *SessionStore) Path() string {
	return s.sessionPath
}

func generateName(basePath, storeType string) (string, error) {
	// Look at the existing files in the session directory and generate a new name
	// based on the highest number found. They are stored as <number>.<storeType>.json
	// so we can just look for the highest number.
	files, err := os.ReadDir(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to read session directory: %w", err)
	}

	var highest int
	for _, f := range files {
		var n int
		_, err := fmt.Sscanf(f.Name(), "%d", &n)
		if err != nil {
			continue
		}

		if n > highest {
			highest = n
		}
	}

	return path.Join(basePath, fmt.Sprintf("%03d.%s.json", highest+1, storeType)), nil
}

func (s *SessionStore) save(storeType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.MkdirAll(s.sessionPath, 0755)
	if err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	fname, err := generateName(s.sessionPath, storeType)
	if err != nil {
		return fmt.Errorf("failed to generate filename: %w", err)
	}

	slog.Debug("saving "+storeType, "component", "SessionStore", "filename", fname)
	err = os.WriteFile(fname, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	return nil
}

func (s *SessionStore) SaveParams(p openai.ChatCompletionNewParams) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	return s.save("params", data)
}

func (s *SessionStore) SaveResponse(r *openai.ChatCompletion) error {
	// Prefer the bytes the server actually sent.
	data := []byte(r.RawJSON())
	if len(data) == 0 {
		var err error
		data, err = json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	return s.save("response", data)
}

func (s *SessionStore) SaveError(responseErr error) error {
	// Categorized errors carry the details worth keeping.
	jErr := struct {
		Error      string `json:"error"`
		Kind       string `json:"kind,omitempty"`
		Provider   string `json:"provider,omitempty"`
		StatusCode int    `json:"status_code,omitempty"`
	}{Error: responseErr.Error()}

	var aErr *agentloop.Error
	if errors.As(responseErr, &aErr) {
		jErr.Kind = aErr.Kind.String()
		jErr.Provider = aErr.Provider
		jErr.StatusCode = aErr.StatusCode
	}

	data, err := json.Marshal(jErr)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	return s.save("error", data)
}

func (s *SessionStore) Middleware(
	ctx context.Context, params openai.ChatCompletionNewParams, next openaichat.CreateCompletionFn,
) (*openai.ChatCompletion, error) {
	err := s.SaveParams(params)
	if err != nil {
		slog.Error("failed to save params to session store", "err", err)
	}

	resp, err := next(ctx, params)
	if err != nil {
		sErr := s.SaveError(err)
		if sErr != nil {
			slog.Error("failed to save error to session store", "err", sErr)
		}

		return resp, err
	}

	err = s.SaveResponse(resp)
	if err != nil {
		slog.Error("failed to save response to session store", "err", err)
	}

	return resp, nil
}
