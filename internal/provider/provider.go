// Package provider maps (model, system prompt, conversation, attachments)
// onto the wire schemas of the supported chat-completion APIs and extracts
// the assistant text from their responses. The HTTP round-trip itself lives
// in the transport package.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rmloveland/synergy/internal/config"
	"github.com/rmloveland/synergy/internal/convo"
	"github.com/rmloveland/synergy/internal/logger"
	"github.com/rmloveland/synergy/internal/stack"
	"github.com/rmloveland/synergy/internal/transport"
)

// DefaultSystemPrompt frames every session.
const DefaultSystemPrompt = "You are a helpful assistant working inside a " +
	"terminal session. The user may attach files and command output to " +
	"their queries; treat attachments as trusted context."

const attachmentSeparator = "\n=== END ATTACHMENTS ===\n\n"

// request is a fully-built provider call, ready for the transport.
type request struct {
	URL     string
	Headers map[string]string
	Body    []byte
}

// arm builds requests and extracts replies for one provider tag.
type arm interface {
	build(model config.Model, system string, turns []convo.Turn) (*request, error)
	extract(body []byte) (string, error)
}

// Poster is the transport surface the dispatcher needs. *transport.Client
// satisfies it; tests substitute fakes.
type Poster interface {
	Post(ctx context.Context, url string, headers map[string]string, body []byte) (*transport.Response, error)
	Offline() bool
}

// Dispatcher owns the request/response cycle for the active model.
type Dispatcher struct {
	Transport Poster
	Registry  *config.Registry
	Log       *convo.Log
	Stack     *stack.Stack
	System    string

	// EncodeAttachments mirrors the ,encoded flag: when true, attachment
	// bodies are base64-encoded in the outgoing prompt.
	EncodeAttachments bool
}

func NewDispatcher(t Poster, reg *config.Registry, log *convo.Log, st *stack.Stack) *Dispatcher {
	return &Dispatcher{
		Transport:         t,
		Registry:          reg,
		Log:               log,
		Stack:             st,
		System:            DefaultSystemPrompt,
		EncodeAttachments: true,
	}
}

func armFor(tag config.ProviderTag) arm {
	switch tag {
	case config.ProviderOpenAI:
		return openaiArm{}
	case config.ProviderAnthropic:
		return anthropicArm{}
	case config.ProviderGemini:
		return geminiArm{}
	}
	return nil
}

// keyEnvVars maps provider tags to their credential variables.
var keyEnvVars = map[config.ProviderTag]string{
	config.ProviderOpenAI:    "OPENAI_API_KEY",
	config.ProviderAnthropic: "ANTHROPIC_API_KEY",
	config.ProviderGemini:    "GEMINI_API_KEY",
}

// Ask sends the prompt (with current attachments prepended) to the active
// model and returns the assistant text. On success the user and assistant
// turns are both appended to the log; on any failure the log is left exactly
// as it was, so a retried prompt does not accumulate orphan user turns.
func (d *Dispatcher) Ask(ctx context.Context, prompt string) (string, error) {
	model := d.Registry.Active()

	if os.Getenv(keyEnvVars[model.Provider]) == "" {
		return "", &MissingKeyError{Provider: model.Provider}
	}

	effective := prompt
	if attachments := d.Stack.RenderPayload(d.EncodeAttachments); attachments != "" {
		effective = attachments + attachmentSeparator + prompt
	}
	d.Log.Append(convo.RoleUser, effective)

	reply, err := d.send(ctx, model)
	if err != nil {
		d.Log.DropLast()
		return "", err
	}
	d.Log.Append(convo.RoleAssistant, reply)
	return reply, nil
}

func (d *Dispatcher) send(ctx context.Context, model config.Model) (string, error) {
	a := armFor(model.Provider)
	if a == nil {
		return "", fmt.Errorf("no dispatcher for provider '%s'", model.Provider)
	}
	req, err := a.build(model, d.System, d.Log.Turns())
	if err != nil {
		return "", err
	}

	logger.Debug("sending request", "provider", model.Provider, "model", model.WireID, "bytes", len(req.Body))
	resp, err := d.Transport.Post(ctx, req.URL, req.Headers, req.Body)
	if err != nil {
		return "", err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return "", &HTTPError{Status: resp.Status, BodyPrefix: bodyPrefix(resp.Body)}
	}
	// Offline mode hands back a plain canned string, not provider JSON.
	if d.Transport.Offline() {
		return string(resp.Body), nil
	}
	return a.extract(resp.Body)
}

// providerTurns filters the log down to what goes on the wire: comments are
// local annotations and never leave the process.
func providerTurns(turns []convo.Turn) []convo.Turn {
	out := make([]convo.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == convo.RoleComment {
			continue
		}
		out = append(out, t)
	}
	return out
}

func parseJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &ParseError{BodyPrefix: bodyPrefix(body)}
	}
	return nil
}
