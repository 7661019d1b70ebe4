package agentloop

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Arguments is the parsed form of a ToolCall's argument text: either a
// syntactically valid JSON payload or the raw text along with the reason it
// could not be parsed.
type Arguments struct {
	raw    string
	parsed json.RawMessage
	err    error
}

var emptyArguments = json.RawMessage(`{}`)

// ParseArguments parses text as JSON. Blank text is treated as an empty
// object.
func ParseArguments(text string) Arguments {
	if strings.TrimSpace(text) == "" {
		return Arguments{raw: text, parsed: emptyArguments}
	}

	if !json.Valid([]byte(text)) {
		var v any
		err := json.Unmarshal([]byte(text), &v)
		if err == nil {
			err = fmt.Errorf("invalid JSON")
		}
		return Arguments{raw: text, err: err}
	}

	return Arguments{raw: text, parsed: json.RawMessage(text)}
}

func (a Arguments) Valid() bool {
	return a.err == nil
}

func (a Arguments) Raw() string {
	return a.raw
}

// JSON returns the parsed payload, or nil when the text was not valid.
func (a Arguments) JSON() json.RawMessage {
	return a.parsed
}

func (a Arguments) Err() error {
	return a.err
}

func (a Arguments) Decode(v any) error {
	if a.err != nil {
		return a.err
	}
	return json.Unmarshal(a.parsed, v)
}
