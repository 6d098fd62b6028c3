package manifest

import (
	"encoding/json"
	"fmt"
)

// TokenKind enumerates the closed set of token variants an alias pipeline
// step may contain. Placeholders are resolved against the step component's
// installed-artifact descriptor at dispatch time; literals pass through
// unchanged.
type TokenKind int

const (
	// TokenLiteral is a verbatim argument.
	TokenLiteral TokenKind = iota
	// TokenExecutable expands to the step component's installed executable
	// path.
	TokenExecutable
	// TokenLibPath expands to the active channel's lib directory.
	TokenLibPath
	// TokenVarPath expands to a path under the active channel's var
	// directory; it must be followed by a literal naming the entry.
	TokenVarPath
)

// Token is one element of a pipeline step's argument sequence. The JSON
// form is either a bare string (literal) or {"expand": "executable" |
// "lib_path" | "var_path"}.
type Token struct {
	Kind TokenKind
	Text string // literal text, when Kind is TokenLiteral
}

// Step is one stage of an alias pipeline: the component whose artifact the
// tokens resolve against, and the token sequence itself.
type Step struct {
	Component string  `json:"component"`
	Tokens    []Token `json:"tokens"`
}

// Pipeline is the ordered list of steps an alias expands to. Pipelines are
// immutable once loaded.
type Pipeline []Step

type expandJSON struct {
	Expand string `json:"expand"`
}

// UnmarshalJSON accepts either a JSON string (literal token) or an
// {"expand": ...} object naming a placeholder. Unknown placeholder names
// are schema violations.
func (t *Token) UnmarshalJSON(raw []byte) error {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedManifest, err)
		}
		*t = Token{Kind: TokenLiteral, Text: s}
		return nil
	}
	var e expandJSON
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	switch e.Expand {
	case "executable":
		*t = Token{Kind: TokenExecutable}
	case "lib_path":
		*t = Token{Kind: TokenLibPath}
	case "var_path":
		*t = Token{Kind: TokenVarPath}
	default:
		return fmt.Errorf("%w: unknown token placeholder %q", ErrMalformedManifest, e.Expand)
	}
	return nil
}

// MarshalJSON emits the form UnmarshalJSON accepts.
func (t Token) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TokenLiteral:
		return json.Marshal(t.Text)
	case TokenExecutable:
		return json.Marshal(expandJSON{Expand: "executable"})
	case TokenLibPath:
		return json.Marshal(expandJSON{Expand: "lib_path"})
	case TokenVarPath:
		return json.Marshal(expandJSON{Expand: "var_path"})
	}
	return nil, fmt.Errorf("unknown token kind %d", t.Kind)
}

// Literal builds a literal token. Convenience for tests and generated
// manifests.
func Literal(text string) Token {
	return Token{Kind: TokenLiteral, Text: text}
}

// Alias returns the pipeline for the named alias, or nil when the channel
// does not define it.
func (c *Channel) Alias(name string) Pipeline {
	return c.Aliases[name]
}

// AliasNames returns the channel's alias names, unsorted.
func (c *Channel) AliasNames() []string {
	names := make([]string, 0, len(c.Aliases))
	for name := range c.Aliases {
		names = append(names, name)
	}
	return names
}
