package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantText  string
		wantNames []string
	}{
		{
			name:     "plain text",
			text:     "All done.\nDONE\n",
			wantText: "All done.\nDONE\n",
		},
		{
			name:      "wrapped object",
			text:      `Reading the file first. {"tool_calls":[{"name":"read_file","arguments":{"path":"a.go"}}]}`,
			wantText:  "Reading the file first. ",
			wantNames: []string{"read_file"},
		},
		{
			name:      "bare array with trailing text",
			text:      "\n  " + `[{"name":"list_tasks","arguments":{}},{"name":"search","arguments":{"query":"x"}}] ok`,
			wantText:  "",
			wantNames: []string{"list_tasks", "search"},
		},
		{
			name:      "repairable json",
			text:      `{"tool_calls":[{"name":"write_file","arguments":{"path":"a.txt","content":"hi"}}]`,
			wantText:  "",
			wantNames: []string{"write_file"},
		},
		{
			name:     "unparseable block is left as text",
			text:     `{"tool_calls": nope`,
			wantText: `{"tool_calls": nope`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, calls := parseToolCalls(tt.text)
			assert.Equal(t, tt.wantText, text)

			var names []string
			for _, c := range calls {
				names = append(names, c.Name)
				assert.NotEmpty(t, c.ID)
				assert.NotEmpty(t, c.Arguments)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestBuildResponseWithToolCalls(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4o-mini"}
	resp := adapter.buildResponse(Request{}, `Checking. {"tool_calls":[{"name":"list_tasks"}]}`)

	assert.Equal(t, "Checking. ", resp.Text())
	assert.Equal(t, "tool_calls", resp.FinishReason.Reason)
	assert.Equal(t, "gpt-4o-mini", resp.Model)

	calls := resp.ToolCallsFromResponse()
	require.Len(t, calls, 1)
	assert.Equal(t, "list_tasks", calls[0].Name)
	assert.JSONEq(t, `{}`, string(calls[0].Arguments))
}

func TestBuildResponseKeepsLineBreaksAcrossRounds(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai", model: "gpt-4o-mini"}
	rounds := []string{
		"I'll create the file now.\n" + `{"tool_calls":[{"name":"write_file","arguments":{"path":"a.txt","content":"a"}}]}`,
		"Written.\nCOMPLETE\n",
	}

	// Session.Run joins round text without a separator.
	var joined string
	for _, r := range rounds {
		joined += adapter.buildResponse(Request{}, r).Text()
	}
	assert.Equal(t, "I'll create the file now.\nWritten.\nCOMPLETE\n", joined)

	lines := strings.Split(strings.TrimRight(joined, "\n"), "\n")
	assert.Equal(t, "COMPLETE", lines[len(lines)-1])
}

func TestGollmAdapterTranslateError(t *testing.T) {
	adapter := &GollmAdapter{provider: "openai"}

	tests := []struct {
		msg   string
		check func(error) bool
	}{
		{"401 Unauthorized", func(err error) bool { var e *AuthenticationError; return errors.As(err, &e) }},
		{"403 Forbidden", func(err error) bool { var e *AccessDeniedError; return errors.As(err, &e) }},
		{"404 not found", func(err error) bool { var e *NotFoundError; return errors.As(err, &e) }},
		{"429 rate limit exceeded", func(err error) bool { var e *RateLimitError; return errors.As(err, &e) }},
		{"context length exceeded", func(err error) bool { var e *ContextLengthError; return errors.As(err, &e) }},
		{"500 internal server error", func(err error) bool { var e *ServerError; return errors.As(err, &e) }},
		{"timeout waiting for response", func(err error) bool { var e *RequestTimeoutError; return errors.As(err, &e) }},
		{"context canceled", func(err error) bool { var e *AbortError; return errors.As(err, &e) }},
		{"dial tcp: connection refused", func(err error) bool { var e *NetworkError; return errors.As(err, &e) }},
		{"something unknown", func(err error) bool { var e *ProviderError; return errors.As(err, &e) }},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := adapter.translateError(errors.New(tt.msg))
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected type %T", err)
		})
	}
}
