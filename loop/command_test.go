package loop

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`a b  c`, []string{"a", "b", "c"}},
		{`tool "fix the bug" --x`, []string{"tool", "fix the bug", "--x"}},
		{`'single quoted' "double"`, []string{"single quoted", "double"}},
		{`"say \"hi\"" 'it\'s'`, []string{`say "hi"`, "it's"}},
		{`"back\\slash" "keep\n"`, []string{`back\slash`, `keep\n`}},
		{`--flag=""`, []string{"--flag="}},
		{`"" x`, []string{"", "x"}},
		{`pre"mid dle"post`, []string{"premid dlepost"}},
		{"   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestParseCommand(t *testing.T) {
	cfg, err := ParseCommand(`/ralph-loop "Add a README" --completion-promise "ALL DONE" --max-iterations 4`)
	require.NoError(t, err)
	assert.Equal(t, Config{Prompt: "Add a README", CompletionPromise: "ALL DONE", MaxIterations: 4}, cfg)

	cfg, err = ParseCommand(`loop 'x' --max-iterations=2.9 --completion-promise=OK --verbose`)
	require.NoError(t, err)
	assert.Equal(t, Config{Prompt: "x", CompletionPromise: "OK", MaxIterations: 2}, cfg)
}

func TestParseCommandValidation(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"empty", ``, "prompt"},
		{"verb only", `loop`, "prompt"},
		{"blank prompt", `loop "   " --completion-promise X --max-iterations 1`, "prompt"},
		{"missing promise", `loop "p" --max-iterations 3`, "completion-promise"},
		{"empty promise", `loop "p" --completion-promise "" --max-iterations 3`, "completion-promise"},
		{"zero iterations", `tool "fix bug" --completion-promise DONE --max-iterations 0`, "max-iterations"},
		{"zero iterations without promise", `tool "fix bug" --max-iterations 0`, "completion-promise"},
		{"negative iterations", `tool "fix bug" --completion-promise DONE --max-iterations -2`, "max-iterations"},
		{"not a number", `tool "fix bug" --completion-promise DONE --max-iterations many`, "max-iterations"},
		{"dangling flag", `tool "fix bug" --completion-promise DONE --max-iterations`, "max-iterations"},
		{"prompt checked first", `tool "" --max-iterations 0`, "prompt"},
		{"flag where prompt belongs", `tool --completion-promise X --max-iterations 3`, "prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand(tt.raw)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestParseIterations(t *testing.T) {
	assert.Equal(t, 3, parseIterations("3"))
	assert.Equal(t, 3, parseIterations(" 3.7 "))
	assert.Equal(t, 0, parseIterations("NaN"))
	assert.Equal(t, 0, parseIterations("Inf"))
	assert.Equal(t, 0, parseIterations("-1"))
	assert.Equal(t, math.MaxInt32, parseIterations("1e12"))
}
