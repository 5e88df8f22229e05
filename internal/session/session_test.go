package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmloveland/synergy/internal/convo"
	"github.com/rmloveland/synergy/internal/stack"
)

func TestDumpLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "attached.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("file body\n"), 0644))

	st := stack.New()
	_, err := st.PushFile(filePath)
	require.NoError(t, err)
	st.PushCapture("wc -l attached.txt", "1 attached.txt\n", 0)

	log := convo.New()
	log.Append(convo.RoleUser, "question with <xml> & weird bytes \x01")
	log.Append(convo.RoleAssistant, "answer\nacross lines")
	log.Append(convo.RoleComment, "local note")

	snap := &Snapshot{
		SessionID:    "0b1e4e6a-1111-2222-3333-444455556666",
		Model:        "claude-sonnet",
		Stack:        st,
		Convo:        log,
		SystemPrompt: "You are terse.",
	}

	path := filepath.Join(dir, "dump.xml")
	require.NoError(t, Dump(path, snap))

	res, err := Load(path)
	require.NoError(t, err)

	assert.False(t, res.V1)
	assert.Equal(t, snap.SessionID, res.SessionID)
	assert.Equal(t, "claude-sonnet", res.Model)
	assert.Equal(t, "You are terse.", res.SystemPrompt)

	require.Len(t, res.Items, 2)
	fileItem, ok := res.Items[0].(*stack.FileItem)
	require.True(t, ok)
	assert.Equal(t, filePath, fileItem.Path)
	capItem, ok := res.Items[1].(*stack.CaptureItem)
	require.True(t, ok)
	assert.Equal(t, "wc -l attached.txt", capItem.Cmd)
	assert.Equal(t, "1 attached.txt\n", capItem.Output)
	assert.Equal(t, 0, capItem.Status)

	require.Len(t, res.Turns, 3)
	assert.Equal(t, log.Turns(), res.Turns)
}

func TestDumpIsBase64V2(t *testing.T) {
	dir := t.TempDir()
	log := convo.New()
	log.Append(convo.RoleUser, "plainly visible text")

	path := filepath.Join(dir, "dump.xml")
	require.NoError(t, Dump(path, &Snapshot{
		SessionID: "abc", Model: "gpt-5", Stack: stack.New(), Convo: log, SystemPrompt: "sys",
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `session="abc"`)
	assert.Contains(t, text, `encoding="base64"`)
	assert.NotContains(t, text, "plainly visible text", "v2 bodies are base64 regardless of runtime flags")
	assert.True(t, strings.HasPrefix(text, "<?xml"))
}

func TestLoadV1Legacy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "old.xml")
	v1 := `<?xml version="1.0"?>
<dump>
  <stack>
    <file path="/tmp/notes.txt"/>
    <file path="/tmp/more.txt"/>
  </stack>
  <convo>
    <elem role="user">plain question</elem>
    <elem role="assistant">plain answer</elem>
  </convo>
  <prompt>old system prompt</prompt>
</dump>
`
	require.NoError(t, os.WriteFile(path, []byte(v1), 0644))

	res, err := Load(path)
	require.NoError(t, err)
	assert.True(t, res.V1)
	assert.Empty(t, res.SessionID)
	assert.Empty(t, res.Model)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "/tmp/notes.txt", res.Items[0].(*stack.FileItem).Path)
	require.Len(t, res.Turns, 2)
	assert.Equal(t, "plain question", res.Turns[0].Text)
	assert.Equal(t, convo.RoleAssistant, res.Turns[1].Role)
	assert.Equal(t, "old system prompt", res.SystemPrompt)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.xml"))
	require.Error(t, err)
}

func TestLoadMalformedXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xml")
	require.NoError(t, os.WriteFile(path, []byte("<dump><stack>"), 0644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestDefaultDumpPath(t *testing.T) {
	p := DefaultDumpPath("/root/etc/dumps", "my-uuid")
	base := filepath.Base(p)
	assert.True(t, strings.HasPrefix(base, "dump-my-uuid-"), base)
	assert.True(t, strings.HasSuffix(base, ".xml"), base)
	assert.Contains(t, base, ".", "timestamp keeps a fractional part")
	assert.Equal(t, "/root/etc/dumps", filepath.Dir(p))
}

func TestDumpStackOrderPreserved(t *testing.T) {
	dir := t.TempDir()
	st := stack.New()
	st.PushCapture("first", "a", 0)
	f := filepath.Join(dir, "mid.txt")
	require.NoError(t, os.WriteFile(f, []byte("m"), 0644))
	_, err := st.PushFile(f)
	require.NoError(t, err)
	st.PushCapture("last", "z", 1)

	path := filepath.Join(dir, "d.xml")
	require.NoError(t, Dump(path, &Snapshot{
		SessionID: "s", Model: "gpt-5", Stack: st, Convo: convo.New(),
	}))

	res, err := Load(path)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, "first", res.Items[0].(*stack.CaptureItem).Cmd)
	assert.IsType(t, &stack.FileItem{}, res.Items[1])
	last := res.Items[2].(*stack.CaptureItem)
	assert.Equal(t, "last", last.Cmd)
	assert.Equal(t, 1, last.Status)
}
