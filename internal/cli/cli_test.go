// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/params"
	"github.com/jeranaias/rigchat/internal/router"
	"github.com/jeranaias/rigchat/internal/session"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func TestMain(m *testing.M) {
	// Assertions match plain text.
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

// fakeOllama answers every chat with "Hello" + " world".
type fakeOllama struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	models   []string
	requests []ollama.ChatRequest
}

func newFakeOllama(t *testing.T, models ...string) *fakeOllama {
	t.Helper()
	f := &fakeOllama{t: t, models: models}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOllama) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		_, _ = io.WriteString(w, "Ollama is running")
	case "/api/tags":
		var resp ollama.ListModelsResponse
		for _, m := range f.models {
			resp.Models = append(resp.Models, ollama.ModelInfo{Name: m, Size: 2_000_000_000})
		}
		_ = json.NewEncoder(w).Encode(resp)
	case "/api/chat":
		var req ollama.ChatRequest
		if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		for _, content := range []string{"Hello", " world"} {
			b, _ := json.Marshal(map[string]any{"model": req.Model, "message": map[string]string{"role": "assistant", "content": content}, "done": false})
			_, _ = w.Write(append(b, '\n'))
		}
		_, _ = io.WriteString(w, `{"model":"`+req.Model+`","done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":2,"eval_duration":1000000000}`+"\n")
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) lastRequest() ollama.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.requests)
	return f.requests[len(f.requests)-1]
}

func (f *fakeOllama) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// clearEnv blanks every variable that overrides the config file.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RIGCHAT_CONFIG", "RIGCHAT_MODEL", "RIGCHAT_OLLAMA_URL", "OLLAMA_HOST",
		"RIGCHAT_MAX_PAIRS", "RIGCHAT_HISTORY", "RIGCHAT_PROFILE", "RIGCHAT_LOG_LEVEL",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENROUTER_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

type cliEnv struct {
	t          *testing.T
	server     *fakeOllama
	dir        string
	configPath string
}

// newCLIEnv writes a config pointing at a fake server offering models.
// tables is appended to the file as extra TOML tables.
func newCLIEnv(t *testing.T, defaultModel, tables string, models ...string) *cliEnv {
	t.Helper()
	clearEnv(t)
	env := &cliEnv{t: t, server: newFakeOllama(t, models...), dir: t.TempDir()}
	env.configPath = filepath.Join(env.dir, "config.toml")
	content := fmt.Sprintf(`default_model = %q

[server]
url = %q

[registry]
background_refresh = false

[session]
dir = %q

[log]
level = "error"
%s`, defaultModel, env.server.srv.URL, filepath.Join(env.dir, "sessions"), tables)
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0600))
	return env
}

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// run executes one rigchat invocation with a fresh App.
func (e *cliEnv) run(stdin string, args ...string) cliResult {
	e.t.Helper()
	var out, errOut bytes.Buffer
	app := &App{In: strings.NewReader(stdin), Out: &out, Err: &errOut}
	defer app.Close()

	root := NewRootCommand(app)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	code := runRoot(context.Background(), app, root)
	return cliResult{code: code, stdout: out.String(), stderr: errOut.String()}
}

// envelope is JSONResponse with Data left raw.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
	Command string          `json:"command"`
}

func decodeEnvelope(t *testing.T, stdout string, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(stdout), &env), stdout)
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_StreamsAnswer(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "ask", "why", "is", "the", "sky", "blue?")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Hello world\n", res.stdout)

	req := env.server.lastRequest()
	assert.Equal(t, "llama3.2", req.Model)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "why is the sky blue?", req.Messages[len(req.Messages)-1].Content)
}

func TestAsk_JSON(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "--json", "ask", "hi")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	var data AskData
	resp := decodeEnvelope(t, res.stdout, &data)
	assert.True(t, resp.Success)
	assert.Equal(t, "ask", resp.Command)
	assert.Equal(t, "Hello world", data.Response)
	assert.Equal(t, "llama3.2", data.Model)
	assert.False(t, data.Fallback)
	assert.Equal(t, "stop", data.DoneReason)
}

func TestAsk_ReadsPromptFromStdin(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("  piped question \n", "ask")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	req := env.server.lastRequest()
	assert.Equal(t, "piped question", req.Messages[len(req.Messages)-1].Content)
}

func TestAsk_EmptyPromptIsUsageError(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "ask")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stderr, "missing prompt")
	assert.Zero(t, env.server.requestCount())
}

func TestAsk_ParamOverridesApplyToOneExchange(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "ask", "--param", "temperature=0.3", "--param", "stop=END, STOP", "hi")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	req := env.server.lastRequest()
	assert.Equal(t, 0.3, req.Options["temperature"])
	assert.Equal(t, []any{"END", "STOP"}, req.Options["stop"])
}

func TestAsk_UnknownParameter(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "ask", "--param", "warp_factor=9", "hi")
	assert.Equal(t, ExitUsageError, res.code)
	assert.Contains(t, res.stderr, "warp_factor")
}

func TestAsk_SystemFlag(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "ask", "--system", "Be terse.", "hi")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Be terse.", env.server.lastRequest().System)
}

func TestAsk_FallsBackToDefaultModel(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "-m", "mistral", "ask", "hi")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stderr, "[Fallback]")
	assert.Contains(t, res.stderr, "mistral is not available")
	assert.Equal(t, "llama3.2", env.server.lastRequest().Model)
}

func TestAsk_ChoiceRequiredJSON(t *testing.T) {
	env := newCLIEnv(t, "missing", "", "llama3.2", "mistral")

	res := env.run("", "--json", "ask", "hi")
	assert.Equal(t, ExitUsageError, res.code)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out), res.stdout)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "choice_required", out["error_type"])
	assert.Equal(t, []any{"llama3.2", "mistral"}, out["available"])
}

func TestAsk_ServerDown(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")
	env.server.srv.Close()

	res := env.run("", "ask", "hi")
	assert.Equal(t, ExitNetworkError, res.code)
	assert.Contains(t, res.stderr, "ollama serve")
}

// =============================================================================
// SESSIONS
// =============================================================================

func TestSession_PersistsExchanges(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "--json", "session", "new", "work")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var created map[string]string
	decodeEnvelope(t, res.stdout, &created)
	id := created["id"]
	require.NotEmpty(t, id)
	assert.Equal(t, "work", created["name"])

	res = env.run("", "--session", "work", "ask", "first")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	res = env.run("", "--session", id[:8], "ask", "second")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	// The second exchange carried the first as history.
	req := env.server.lastRequest()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "first", req.Messages[0].Content)
	assert.Equal(t, "Hello world", req.Messages[1].Content)

	res = env.run("", "--json", "session", "show", "work")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var sess session.Session
	decodeEnvelope(t, res.stdout, &sess)
	assert.Equal(t, id, sess.ID)
	assert.Equal(t, "llama3.2", sess.Snapshot.CurrentModel)
	msgs := sess.Snapshot.History["llama3.2"]
	require.Len(t, msgs, 4)
	assert.Equal(t, model.RoleUser, msgs[2].Role)
	assert.Equal(t, "second", msgs[2].Content)
}

func TestSession_NoSaveLeavesSessionUnchanged(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	require.Equal(t, ExitSuccess, env.run("", "session", "new", "scratch").code)
	res := env.run("", "--session", "scratch", "ask", "--no-save", "hi")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res = env.run("", "--json", "session", "show", "scratch")
	var sess session.Session
	decodeEnvelope(t, res.stdout, &sess)
	assert.Zero(t, sess.MessageCount())
}

func TestSession_ListSearchDelete(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	require.Equal(t, ExitSuccess, env.run("", "session", "new", "alpha").code)
	require.Equal(t, ExitSuccess, env.run("", "session", "new", "beta").code)

	res := env.run("", "--json", "session", "list")
	var metas []session.Meta
	decodeEnvelope(t, res.stdout, &metas)
	assert.Len(t, metas, 2)

	res = env.run("", "session", "list")
	assert.Contains(t, res.stdout, "alpha")
	assert.Contains(t, res.stdout, "beta")

	res = env.run("", "--json", "session", "search", "alp")
	decodeEnvelope(t, res.stdout, &metas)
	require.Len(t, metas, 1)
	assert.Equal(t, "alpha", metas[0].Name)

	res = env.run("", "session", "delete", "alpha")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "deleted session")

	res = env.run("", "session", "show", "alpha")
	assert.Equal(t, ExitNotFoundError, res.code)

	res = env.run("", "--session", "alpha", "ask", "hi")
	assert.Equal(t, ExitNotFoundError, res.code)
}

func TestSession_ShowByListNumber(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	require.Equal(t, ExitSuccess, env.run("", "session", "new", "only").code)
	res := env.run("", "--session", "only", "ask", "what is rigchat?")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res = env.run("", "session", "show", "1")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "what is rigchat?")
}

// =============================================================================
// RUN
// =============================================================================

func TestRun_List(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "--json", "run", "--list")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var cmds []CommandData
	decodeEnvelope(t, res.stdout, &cmds)

	byID := make(map[string]CommandData)
	for _, c := range cmds {
		byID[c.ID] = c
	}
	require.Contains(t, byID, "proofread")
	assert.Equal(t, "p", byID["proofread"].Key)
	require.Contains(t, byID, "clear-history")
	assert.Equal(t, string(engine.ActionBuiltin), byID["clear-history"].Action)

	res = env.run("", "run", "-l")
	assert.Contains(t, res.stdout, "proofread")
}

func TestRun_PromptCommand(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "run", "p", "teh quick fox")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Hello world\n", res.stdout)

	req := env.server.lastRequest()
	last := req.Messages[len(req.Messages)-1].Content
	assert.Contains(t, last, "Proofread the following")
	assert.Contains(t, last, "teh quick fox")
	assert.Equal(t, 0.2, req.Options["temperature"])
}

func TestRun_PromptCommandReadsStdin(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("func main() {}", "run", "explain-code")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	req := env.server.lastRequest()
	assert.Contains(t, req.Messages[len(req.Messages)-1].Content, "func main() {}")
}

func TestRun_ConfiguredCommand(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", `
[[commands]]
id = "shout"
key = "!"
prompt = "Repeat loudly: {{text}}"
`, "llama3.2")

	res := env.run("", "run", "shout", "hey")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	req := env.server.lastRequest()
	assert.Equal(t, "Repeat loudly: hey", req.Messages[len(req.Messages)-1].Content)
}

func TestRun_BuiltinClearsSessionHistory(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	require.Equal(t, ExitSuccess, env.run("", "session", "new", "s").code)
	require.Equal(t, ExitSuccess, env.run("", "--session", "s", "ask", "hi").code)

	res := env.run("", "--session", "s", "run", "clear-history")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "[OK] clear-history")

	res = env.run("", "--json", "session", "show", "s")
	var sess session.Session
	decodeEnvelope(t, res.stdout, &sess)
	assert.Zero(t, sess.MessageCount())
}

func TestRun_UnknownCommand(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "run", "nope")
	assert.Equal(t, ExitUsageError, res.code)

	res = env.run("", "run")
	assert.Equal(t, ExitUsageError, res.code)
}

// =============================================================================
// MULTISHOT
// =============================================================================

func TestMultishot_JSON(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2", "mistral")

	res := env.run("", "--json", "multishot", "--models", "llama3.2,mistral", "compare")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	var data MultishotData
	resp := decodeEnvelope(t, res.stdout, &data)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, data.RunID)
	require.Len(t, data.Registers, 2)
	assert.Equal(t, "a", data.Registers[0].Register)
	assert.Equal(t, "llama3.2", data.Registers[0].Model)
	assert.Equal(t, "b", data.Registers[1].Register)
	assert.Equal(t, "mistral", data.Registers[1].Model)
	assert.Equal(t, "Hello world", data.Registers[1].Response)
	assert.Zero(t, data.HaltedAt)
}

func TestMultishot_StreamsStepHeaders(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2", "mistral")

	res := env.run("", "ms", "--models", "llama3.2,mistral", "compare")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "Hello world\nHello world\n", res.stdout)
	assert.Contains(t, res.stderr, "[a 1/2]")
	assert.Contains(t, res.stderr, "[b 2/2]")
}

func TestMultishot_HaltsOnUnavailableModel(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "--json", "multishot", "--models", "llama3.2,ghost,llama3.2", "compare")
	assert.Equal(t, ExitNotFoundError, res.code)

	var data MultishotData
	resp := decodeEnvelope(t, res.stdout, &data)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, 2, data.HaltedAt)
	require.Len(t, data.Registers, 1)
	assert.Equal(t, 1, env.server.requestCount())
}

func TestMultishot_RequiresModels(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "multishot", "compare")
	assert.Equal(t, ExitUsageError, res.code)
}

// =============================================================================
// INFO COMMANDS
// =============================================================================

func TestModels_JSON(t *testing.T) {
	env := newCLIEnv(t, "mistral", "", "llama3.2", "mistral")

	res := env.run("", "--json", "models")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var models []ModelData
	decodeEnvelope(t, res.stdout, &models)
	require.Len(t, models, 2)

	for _, m := range models {
		assert.Equal(t, string(model.ProviderLocal), m.Provider)
		assert.True(t, m.Available)
		assert.Equal(t, m.ID == "mistral", m.Default, m.ID)
		assert.Equal(t, int64(2_000_000_000), m.Size)
	}

	res = env.run("", "models", "--refresh")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "llama3.2")
	assert.Contains(t, res.stdout, "2.0 GB")
}

func TestStatus_JSON(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2")

	res := env.run("", "--json", "status")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var st StatusData
	decodeEnvelope(t, res.stdout, &st)
	assert.True(t, st.Reachable)
	assert.True(t, st.Online)
	assert.Equal(t, "idle", strings.ToLower(st.State))
	assert.Equal(t, "llama3.2", st.DefaultModel)
	assert.Equal(t, []string{"local"}, st.Providers)
	assert.Equal(t, 1, st.Models)
	assert.True(t, st.HistoryEnabled)
}

func TestProfiles_ListsConfiguredProfiles(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", `
[profiles.precise]
temperature = 0.1
top_k = 10
`, "llama3.2")

	res := env.run("", "--json", "profiles")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var data struct {
		Profiles []ProfileData `json:"profiles"`
	}
	decodeEnvelope(t, res.stdout, &data)
	require.Len(t, data.Profiles, 1)
	assert.Equal(t, "precise", data.Profiles[0].Name)
	assert.False(t, data.Profiles[0].Active)

	res = env.run("", "profiles", "--params")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "temperature=0.1 top_k=10")
	assert.Contains(t, res.stdout, "Parameters")
}

func TestProfiles_AskWithProfile(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", `
[profiles.precise]
temperature = 0.1
`, "llama3.2")

	res := env.run("", "ask", "-p", "precise", "hi")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, 0.1, env.server.lastRequest().Options["temperature"])

	res = env.run("", "ask", "-p", "nope", "hi")
	assert.Equal(t, ExitNotFoundError, res.code)
}

// =============================================================================
// CONFIG
// =============================================================================

func TestConfig_InitSetGetShow(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "rigchat", "config.toml")
	env := &cliEnv{t: t, configPath: path}

	res := env.run("", "config", "init")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.FileExists(t, path)

	res = env.run("", "config", "init")
	assert.Equal(t, ExitUsageError, res.code)
	res = env.run("", "config", "init", "--force")
	assert.Equal(t, ExitSuccess, res.code, res.stderr)

	res = env.run("", "config", "set", "history.max_pairs", "20")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	res = env.run("", "--json", "config", "get", "history.max_pairs")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var got map[string]any
	decodeEnvelope(t, res.stdout, &got)
	assert.Equal(t, float64(20), got["value"])

	res = env.run("", "config", "set", "providers.anthropic.api_key", "sk-secret")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	res = env.run("", "config", "show")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.NotContains(t, res.stdout, "sk-secret")
	assert.Contains(t, res.stdout, "[REDACTED]")

	res = env.run("", "--json", "config", "show")
	var shown config.Config
	decodeEnvelope(t, res.stdout, &shown)
	assert.Equal(t, 20, shown.History.MaxPairs)

	res = env.run("", "config", "path")
	assert.Equal(t, path+"\n", res.stdout)

	res = env.run("", "config", "validate")
	assert.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Contains(t, res.stdout, "[OK]")
}

func TestConfig_SetDoesNotPersistEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	env := &cliEnv{t: t, configPath: path}
	t.Setenv("RIGCHAT_MODEL", "from-env")

	require.Equal(t, ExitSuccess, env.run("", "config", "set", "suffix", "END").code)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "END", cfg.Suffix)
	assert.Equal(t, config.Default().DefaultModel, cfg.DefaultModel)

	res := env.run("", "config", "get", "default_model")
	assert.Equal(t, "from-env\n", res.stdout)
}

func TestConfig_InvalidValues(t *testing.T) {
	clearEnv(t)
	env := &cliEnv{t: t, configPath: filepath.Join(t.TempDir(), "config.toml")}

	res := env.run("", "config", "set", "history.max_pairs", "0")
	assert.Equal(t, ExitConfigError, res.code)

	res = env.run("", "config", "set", "no.such.key", "1")
	assert.Equal(t, ExitUsageError, res.code)

	res = env.run("", "config", "get", "nope")
	assert.Equal(t, ExitUsageError, res.code)
}

func TestConfig_BrokenFileIsConfigError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"loud\"\n"), 0600))
	env := &cliEnv{t: t, configPath: path}

	res := env.run("", "ask", "hi")
	assert.Equal(t, ExitConfigError, res.code)
	assert.Contains(t, res.stderr, "log.level")
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	clearEnv(t)
	env := &cliEnv{t: t, configPath: filepath.Join(t.TempDir(), "config.toml")}

	res := env.run("", "ask", "--bogus")
	assert.Equal(t, ExitUsageError, res.code)
}

// =============================================================================
// CHAT
// =============================================================================

// scriptedInput replays lines, then reports EOF.
type scriptedInput struct {
	lines   []string
	prompts []string
}

func (s *scriptedInput) ReadInput(prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) Close() {}

func newChatApp(env *cliEnv) (*App, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	app := &App{ConfigPath: env.configPath, In: strings.NewReader(""), Out: &out, Err: &errOut}
	env.t.Cleanup(app.Close)
	return app, &out, &errOut
}

func TestChat_ConversationAndSlashCommands(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2", "mistral")
	app, out, errOut := newChatApp(env)

	input := &scriptedInput{lines: []string{
		"hello",
		"/history",
		"/system Be brief.",
		"/param temperature=0.5",
		"second",
		"/model mistral",
		"third",
		"/clear",
		"/bogus",
		"/save notes",
		"/quit",
	}}
	require.NoError(t, app.runChat(context.Background(), input))

	assert.Contains(t, out.String(), "Hello world")
	assert.Contains(t, out.String(), "You: hello")
	assert.Contains(t, out.String(), "[System prompt updated]")
	assert.Contains(t, out.String(), "switched to")
	assert.Contains(t, out.String(), "[Conversation cleared]")
	assert.Contains(t, out.String(), "saved as")
	assert.Contains(t, out.String(), "3 queries")
	assert.Contains(t, errOut.String(), "unknown command: /bogus")

	req := env.server.lastRequest()
	assert.Equal(t, "mistral", req.Model)
	assert.Equal(t, "Be brief.", req.System)
	assert.Equal(t, 0.5, req.Options["temperature"])

	// The saved session holds llama3.2's conversation; mistral's was cleared.
	res := env.run("", "--json", "session", "show", "notes")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	var sess session.Session
	decodeEnvelope(t, res.stdout, &sess)
	assert.Len(t, sess.Snapshot.History["llama3.2"], 4)
	assert.Empty(t, sess.Snapshot.History["mistral"])
	assert.Equal(t, "Be brief.", sess.Snapshot.SystemPrompt)
}

func TestChat_ChoiceRequiredPrompt(t *testing.T) {
	env := newCLIEnv(t, "missing", "", "llama3.2", "mistral")
	app, out, _ := newChatApp(env)

	input := &scriptedInput{lines: []string{"hello", "2"}}
	require.NoError(t, app.runChat(context.Background(), input))

	assert.Contains(t, out.String(), "Hello world")
	assert.Equal(t, "mistral", env.server.lastRequest().Model)
	assert.Contains(t, input.prompts, "Choose a model (number or name, empty to skip): ")
}

func TestChat_ChoiceSkipped(t *testing.T) {
	env := newCLIEnv(t, "missing", "", "llama3.2", "mistral")
	app, _, _ := newChatApp(env)

	input := &scriptedInput{lines: []string{"hello", ""}}
	require.NoError(t, app.runChat(context.Background(), input))
	assert.Zero(t, env.server.requestCount())
}

func TestChat_RunAndMultishot(t *testing.T) {
	env := newCLIEnv(t, "llama3.2", "", "llama3.2", "mistral")
	app, out, errOut := newChatApp(env)

	input := &scriptedInput{lines: []string{
		"/p teh text",
		"/multishot llama3.2,mistral compare these",
		"/register",
		"/register b",
		"/register z",
		"/reset",
		"exit",
	}}
	require.NoError(t, app.runChat(context.Background(), input))

	assert.Contains(t, out.String(), "[a]")
	assert.Contains(t, out.String(), "[b]")
	assert.Contains(t, out.String(), "[Parameters reset]")
	assert.Contains(t, errOut.String(), "register not found: z")
	assert.Equal(t, 3, env.server.requestCount())
}

// =============================================================================
// HELPERS
// =============================================================================

func TestParseParams(t *testing.T) {
	m, err := params.NewMerger(nil, nil, nil)
	require.NoError(t, err)

	set, err := parseParams(m, []string{"temperature=0.2", "stop=a, b", "top_k = 5"})
	require.NoError(t, err)
	assert.Equal(t, params.Set{"temperature": 0.2, "stop": []string{"a", "b"}, "top_k": float64(5)}, set)

	set, err = parseParams(m, nil)
	require.NoError(t, err)
	assert.Nil(t, set)

	_, err = parseParams(m, []string{"bogus=1"})
	assert.ErrorIs(t, err, params.ErrUnknownParameter)

	_, err = parseParams(m, []string{"temperature=hot"})
	assert.ErrorIs(t, err, params.ErrInvalidValue)

	_, err = parseParams(m, []string{"temperature"})
	var usage *UsageError
	assert.ErrorAs(t, err, &usage)
}

func TestParseValue(t *testing.T) {
	v, err := parseValue(true, "false")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	v, err = parseValue([]string{}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{}, v)

	v, err = parseValue("json", "text")
	require.NoError(t, err)
	assert.Equal(t, "text", v)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", &UsageError{Reason: "x"}, ExitUsageError},
		{"empty prompt", engine.ErrEmptyPrompt, ExitUsageError},
		{"choice", &router.ChoiceRequiredError{Available: []string{"a"}}, ExitUsageError},
		{"cancelled", fmt.Errorf("send: %w", engine.ErrCancelled), ExitCancelled},
		{"context", context.Canceled, ExitCancelled},
		{"session", fmt.Errorf("%w: x", session.ErrSessionNotFound), ExitNotFoundError},
		{"no models", router.ErrNoModelsAvailable, ExitNotFoundError},
		{"not found", &NotFoundError{Resource: "register", ID: "z"}, ExitNotFoundError},
		{"multishot", &engine.MultishotError{Index: 1, Model: "m", Err: engine.ErrModelUnavailable}, ExitNotFoundError},
		{"offline", engine.ErrOffline, ExitNetworkError},
		{"timeout", ollama.ErrTimeout, ExitTimeoutError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"validation", config.ValidateErrors{{Field: "log.level", Message: "bad"}}, ExitConfigError},
		{"config text", errors.New("failed to load TOML config"), ExitConfigError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, engine.ErrOffline, false)
	assert.Contains(t, buf.String(), "[ERROR]")
	assert.Contains(t, buf.String(), "ollama serve")

	buf.Reset()
	DisplayError(&buf, &engine.MultishotError{Index: 2, Model: "mistral", Err: engine.ErrModelUnavailable}, true)
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "multishot_halted", out["error_type"])
	assert.Equal(t, float64(3), out["step"])
	assert.Equal(t, "mistral", out["model"])
	assert.Equal(t, float64(ExitNotFoundError), out["exit_code"])

	buf.Reset()
	DisplayError(&buf, nil, false)
	assert.Empty(t, buf.String())
}

func TestEventPrinter(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newEventPrinter(&out, &errOut, true)

	p.handle(engine.Event{Kind: engine.EventModelFallback, Requested: "ghost", Model: "llama3.2"})
	p.handle(engine.Event{Kind: engine.EventDelta, Delta: "Hi"})
	p.handle(engine.Event{Kind: engine.EventDelta, Delta: " there"})
	p.handle(engine.Event{Kind: engine.EventFinished, Content: "Hi there"})
	p.handle(engine.Event{Kind: engine.EventDelta, Delta: "line\n"})
	p.handle(engine.Event{Kind: engine.EventInterrupted, Content: "line\n"})

	assert.Equal(t, "Hi there\nline\n", out.String())
	assert.Contains(t, errOut.String(), "ghost is not available")
	assert.Contains(t, errOut.String(), "[Interrupted]")

	out.Reset()
	quiet := newEventPrinter(&out, &errOut, false)
	quiet.handle(engine.Event{Kind: engine.EventDelta, Delta: "hidden"})
	quiet.handle(engine.Event{Kind: engine.EventFinished})
	assert.Empty(t, out.String())
}

func TestFormatStats(t *testing.T) {
	res := &engine.Result{Model: "llama3.2", Stats: engine.Stats{
		Tokens:           42,
		TokensPerSecond:  12.34,
		Elapsed:          1500*time.Millisecond + 300*time.Microsecond,
		DroppedFragments: 2,
	}}
	assert.Equal(t, "llama3.2 | 42 tokens | 12.3 tok/s | 1.5s | 2 malformed skipped", formatStats(res))
}

func TestJSONResponse_Print(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewJSONResponse("ask", AskData{Response: "hi"}).Print(&buf))

	var data AskData
	resp := decodeEnvelope(t, buf.String(), &data)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "hi", data.Response)
}

func TestClampWidth(t *testing.T) {
	tests := []struct {
		width int
		want  int
	}{
		{0, DefaultTerminalWidth},
		{-1, DefaultTerminalWidth},
		{20, MinTerminalWidth},
		{MinTerminalWidth, MinTerminalWidth},
		{132, 132},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampWidth(tt.width), "width %d", tt.width)
	}
	assert.GreaterOrEqual(t, GetTerminalWidth(), MinTerminalWidth)
}

func TestRenderMarkdown(t *testing.T) {
	require.NotNil(t, getMarkdownRenderer())
	assert.Contains(t, renderMarkdown("# Title\n\nSome **bold** text."), "Title")
}
