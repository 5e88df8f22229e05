package provider

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmloveland/synergy/internal/config"
	"github.com/rmloveland/synergy/internal/convo"
	"github.com/rmloveland/synergy/internal/stack"
	"github.com/rmloveland/synergy/internal/transport"
)

// fakePoster records the request and plays back a fixed response.
type fakePoster struct {
	url     string
	headers map[string]string
	body    []byte

	status  int
	resp    []byte
	err     error
	offline bool
}

func (f *fakePoster) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*transport.Response, error) {
	f.url, f.headers, f.body = url, headers, body
	if f.err != nil {
		return nil, f.err
	}
	return &transport.Response{Status: f.status, Body: f.resp}, nil
}

func (f *fakePoster) Offline() bool { return f.offline }

func newTestDispatcher(t *testing.T, shortname string, f *fakePoster) *Dispatcher {
	t.Helper()
	reg := config.NewRegistry()
	require.NoError(t, reg.SetActive(shortname))
	return NewDispatcher(f, reg, convo.New(), stack.New())
}

func setAllKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-anthropic")
	t.Setenv("GEMINI_API_KEY", "test-gemini")
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	f := &fakePoster{status: 200, resp: []byte(`{}`)}
	d := newTestDispatcher(t, "gpt-5", f)

	_, err := d.Ask(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, "Missing API key for provider 'openai'", err.Error())
	assert.Equal(t, 0, d.Log.Len(), "no turn may be recorded when the key is missing")
}

func TestOpenAIRequestShape(t *testing.T) {
	setAllKeys(t)
	f := &fakePoster{status: 200, resp: []byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`)}
	d := newTestDispatcher(t, "gpt-5", f)

	reply, err := d.Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", reply)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", f.url)
	assert.Equal(t, "Bearer sk-test-openai", f.headers["Authorization"])
	assert.Equal(t, "application/json", f.headers["Content-Type"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(f.body, &body))
	assert.Equal(t, "gpt-5", body["model"])
	assert.Equal(t, false, body["stream"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	last := msgs[1].(map[string]any)
	assert.Equal(t, "user", last["role"])
	assert.Equal(t, "hello", last["content"])
}

func TestAnthropicRequestShape(t *testing.T) {
	setAllKeys(t)
	f := &fakePoster{status: 200, resp: []byte(`{"content":[{"type":"text","text":"hey"}]}`)}
	d := newTestDispatcher(t, "claude-sonnet", f)

	reply, err := d.Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hey", reply)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", f.url)
	assert.Equal(t, "sk-test-anthropic", f.headers["x-api-key"])
	assert.Equal(t, "2023-06-01", f.headers["anthropic-version"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(f.body, &body))
	assert.Equal(t, "claude-sonnet-4-20250514", body["model"])
	assert.NotZero(t, body["max_tokens"])
	assert.NotEmpty(t, body["system"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1, "system prompt must not appear in messages")
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestGeminiRequestShape(t *testing.T) {
	setAllKeys(t)
	f := &fakePoster{status: 200, resp: []byte(`{"candidates":[{"content":{"parts":[{"text":"yo"}]}}]}`)}
	d := newTestDispatcher(t, "gemini-flash", f)

	// Seed a prior exchange so role mapping is visible.
	d.Log.Append(convo.RoleUser, "earlier question")
	d.Log.Append(convo.RoleAssistant, "earlier answer")

	reply, err := d.Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "yo", reply)

	assert.True(t, strings.HasPrefix(f.url,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent?key="), f.url)
	assert.Contains(t, f.url, "key=test-gemini")

	var body map[string]any
	require.NoError(t, json.Unmarshal(f.body, &body))
	contents := body["contents"].([]any)
	// system + 2 prior turns + new user turn
	require.Len(t, contents, 4)
	assert.Equal(t, "user", contents[0].(map[string]any)["role"])
	assert.Equal(t, "model", contents[2].(map[string]any)["role"])
	gc := body["generationConfig"].(map[string]any)
	assert.NotZero(t, gc["maxOutputTokens"])
}

func TestHTTPErrorPreviewIs400Chars(t *testing.T) {
	setAllKeys(t)
	f := &fakePoster{status: 500, resp: []byte(strings.Repeat("x", 600))}
	d := newTestDispatcher(t, "gpt-5", f)

	_, err := d.Ask(context.Background(), "hello")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.Status)
	assert.Equal(t, strings.Repeat("x", 400), httpErr.BodyPrefix)
	assert.Len(t, httpErr.BodyPrefix, 400)
}

func TestJSONParseError(t *testing.T) {
	setAllKeys(t)
	f := &fakePoster{status: 200, resp: []byte("<html>not json</html>")}
	d := newTestDispatcher(t, "gpt-5", f)

	_, err := d.Ask(context.Background(), "hello")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.BodyPrefix, "<html>")
}

func TestSchemaError(t *testing.T) {
	setAllKeys(t)
	f := &fakePoster{status: 200, resp: []byte(`{"choices":[]}`)}
	d := newTestDispatcher(t, "gpt-5", f)

	_, err := d.Ask(context.Background(), "hello")
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, config.ProviderOpenAI, schemaErr.Provider)
}

func TestFailureLeavesLogUntouched(t *testing.T) {
	setAllKeys(t)
	f := &fakePoster{err: &transport.ExitError{Code: 52, Stderr: "empty reply"}}
	d := newTestDispatcher(t, "gpt-5", f)

	_, err := d.Ask(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, 0, d.Log.Len(), "failed ask must not leave an orphan user turn")

	// A second attempt after the transport recovers sees exactly one user turn.
	f.err = nil
	f.status = 200
	f.resp = []byte(`{"choices":[{"message":{"content":"ok"}}]}`)
	_, err = d.Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Log.Len())
}

func TestAttachmentsPrependedAndEncoded(t *testing.T) {
	setAllKeys(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ctx.txt")
	require.NoError(t, os.WriteFile(path, []byte("attached context\n"), 0644))

	f := &fakePoster{status: 200, resp: []byte(`{"choices":[{"message":{"content":"ok"}}]}`)}
	d := newTestDispatcher(t, "gpt-5", f)
	_, err := d.Stack.PushFile(path)
	require.NoError(t, err)

	_, err = d.Ask(context.Background(), "what does the file say?")
	require.NoError(t, err)

	turns := d.Log.Turns()
	require.Len(t, turns, 2)
	effective := turns[0].Text
	assert.Contains(t, effective, "BEGIN FILE")
	assert.NotContains(t, effective, "attached context", "default is base64 encoding")
	assert.True(t, strings.HasSuffix(effective, "what does the file say?"))

	// Plain mode inlines the raw bytes.
	d.Log.Reset()
	d.EncodeAttachments = false
	_, err = d.Ask(context.Background(), "again?")
	require.NoError(t, err)
	assert.Contains(t, d.Log.Turns()[0].Text, "attached context")
}

func TestRoundTripAssistantTurn(t *testing.T) {
	// Extracted text fed back as a prior assistant turn must produce a body
	// the provider schema accepts on the next request.
	setAllKeys(t)
	for _, tc := range []struct {
		shortname string
		resp      string
	}{
		{"gpt-5", `{"choices":[{"message":{"content":"first reply"}}]}`},
		{"claude-sonnet", `{"content":[{"type":"text","text":"first reply"}]}`},
		{"gemini-flash", `{"candidates":[{"content":{"parts":[{"text":"first reply"}]}}]}`},
	} {
		t.Run(tc.shortname, func(t *testing.T) {
			f := &fakePoster{status: 200, resp: []byte(tc.resp)}
			d := newTestDispatcher(t, tc.shortname, f)

			_, err := d.Ask(context.Background(), "one")
			require.NoError(t, err)
			_, err = d.Ask(context.Background(), "two")
			require.NoError(t, err)

			var body map[string]any
			require.NoError(t, json.Unmarshal(f.body, &body))
			blob := string(f.body)
			assert.Contains(t, blob, "first reply")
		})
	}
}

func TestCommentsNeverSent(t *testing.T) {
	setAllKeys(t)
	f := &fakePoster{status: 200, resp: []byte(`{"choices":[{"message":{"content":"ok"}}]}`)}
	d := newTestDispatcher(t, "gpt-5", f)
	d.Log.Append(convo.RoleComment, "secret local note")

	_, err := d.Ask(context.Background(), "hi")
	require.NoError(t, err)
	assert.NotContains(t, string(f.body), "secret local note")
}

func TestOfflineReturnsCannedBody(t *testing.T) {
	setAllKeys(t)
	f := &fakePoster{status: 200, resp: []byte("This is a canned offline response from Synergy."), offline: true}
	d := newTestDispatcher(t, "gemini-flash", f)

	reply, err := d.Ask(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "This is a canned offline response from Synergy.", reply)
}

func TestTransportErrorPropagates(t *testing.T) {
	setAllKeys(t)
	wantErr := &transport.ExitError{Code: 6, Stderr: "could not resolve host"}
	f := &fakePoster{err: wantErr}
	d := newTestDispatcher(t, "claude-sonnet", f)

	_, err := d.Ask(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wantErr) || err.Error() == wantErr.Error())
}
