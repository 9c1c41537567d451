package loop

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Config is a validated loop request. It is not modified once a run starts.
type Config struct {
	Prompt            string `json:"prompt" yaml:"prompt"`
	CompletionPromise string `json:"completionPromise" yaml:"completion_promise"`
	MaxIterations     int    `json:"maxIterations" yaml:"max_iterations"`
}

// ValidationError rejects a malformed command or Config before any run
// state exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

const usage = `usage: <verb> "<prompt>" --completion-promise "<phrase>" --max-iterations <N>`

// Validate checks, in order, that the prompt is present, the completion
// promise is non-empty and the iteration budget is positive.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Prompt) == "" {
		return &ValidationError{Field: "prompt", Message: "missing prompt; " + usage}
	}
	if c.CompletionPromise == "" {
		return &ValidationError{Field: "completion-promise", Message: "missing --completion-promise (the exact line that ends the loop)"}
	}
	if c.MaxIterations <= 0 {
		return &ValidationError{Field: "max-iterations", Message: "missing or non-positive --max-iterations"}
	}
	return nil
}

// Tokenize splits input on whitespace, honouring single and double quotes.
// Inside quotes a backslash escapes the active quote character or another
// backslash; any other backslash is kept literally. An empty quoted string
// is kept as an empty token.
func Tokenize(input string) []string {
	var tokens []string
	var cur strings.Builder
	inToken := false
	var quote rune

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
				continue
			}
			if ch == '\\' && i+1 < len(runes) && (runes[i+1] == quote || runes[i+1] == '\\') {
				cur.WriteRune(runes[i+1])
				i++
				continue
			}
			cur.WriteRune(ch)
			continue
		}

		switch {
		case ch == '"' || ch == '\'':
			quote = ch
			inToken = true
		case unicode.IsSpace(ch):
			if inToken {
				tokens = append(tokens, cur.String())
			}
			cur.Reset()
			inToken = false
		default:
			cur.WriteRune(ch)
			inToken = true
		}
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// ParseCommand parses `<verb> "<prompt>" --completion-promise "<phrase>"
// --max-iterations <N>`. The verb is ignored. Flags may also be written as
// --flag=value; unknown tokens are ignored. The result is validated.
func ParseCommand(raw string) (Config, error) {
	tokens := Tokenize(raw)
	if len(tokens) > 0 {
		tokens = tokens[1:]
	}
	return ParseArgs(tokens)
}

// ParseArgs parses the tokens that follow the verb. A leading flag means
// the prompt is missing.
func ParseArgs(tokens []string) (Config, error) {
	var cfg Config
	if len(tokens) == 0 {
		return cfg, cfg.Validate()
	}
	start := 0
	if !strings.HasPrefix(tokens[0], "--") {
		cfg.Prompt = tokens[0]
		start = 1
	}

	for i := start; i < len(tokens); i++ {
		name, value, inline := strings.Cut(tokens[i], "=")
		if !inline {
			name = tokens[i]
		}
		switch name {
		case "--completion-promise", "--max-iterations":
		default:
			continue
		}
		if !inline {
			if i+1 < len(tokens) {
				value = tokens[i+1]
			}
			i++
		}
		if name == "--completion-promise" {
			cfg.CompletionPromise = value
		} else {
			cfg.MaxIterations = parseIterations(value)
		}
	}
	return cfg, cfg.Validate()
}

// parseIterations floors a finite number and maps anything else to 0.
func parseIterations(s string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Floor(f)
	if f < 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}
