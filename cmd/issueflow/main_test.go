package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/issueflow/internal/config"
	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"github.com/fyrsmithlabs/issueflow/internal/orchestrator"
	"github.com/fyrsmithlabs/issueflow/internal/rules"
	"github.com/fyrsmithlabs/issueflow/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const remediationRules = `
phase: 10-detect
rules:
  - kind: MarkCrashed
    test: 'status == "crashed" && crashed != true'
    set:
      crashed: 'true'
`

const fixRules = `
phase: 20-fix-alternative
rules:
  - kind: Restart
    test: 'crashed == true && action == nil ? [service] : nil'
    set:
      action: '"restart " + context'
  - kind: Page
    test: 'crashed == true && action == nil'
    set:
      action: '"page"'
`

// setupEnv isolates HOME and the ISSUEFLOW_ environment and writes a rule
// directory.
func setupEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, kv := range os.Environ() {
		if k, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, config.EnvPrefix) {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
	t.Setenv("ISSUEFLOW_LOGGING_LEVEL", "error")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-detect.yaml"), []byte(remediationRules), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20-fix.yaml"), []byte(fixRules), 0o600))
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
		assert.NotEmpty(t, c.Short, c.Name())
	}
	for _, want := range []string{"run", "phases", "serve", "version"} {
		assert.True(t, names[want], want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("rules"))
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "issueflow dev\n", out)
}

func TestPhasesCmd(t *testing.T) {
	rules := setupEnv(t)

	out, err := execute(t, "", "phases", "--rules", rules)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "10-detect")
	assert.Contains(t, lines[1], "sequential")
	assert.Contains(t, lines[2], "alternative")
	assert.Contains(t, lines[2], "Restart, Page")
}

func TestRunCmd_SingleIssue(t *testing.T) {
	rules := setupEnv(t)

	out, err := execute(t, `{"status":"crashed","service":"api"}`, "run", "--rules", rules, "-")
	require.NoError(t, err)

	var res struct {
		PassID string         `json:"pass_id"`
		Reward float64        `json:"reward"`
		Issue  map[string]any `json:"issue"`
		Error  string         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.PassID)
	assert.Equal(t, 2.0, res.Reward)
	assert.Equal(t, "restart api", res.Issue["action"])
	assert.Equal(t, true, res.Issue["crashed"])
	assert.Empty(t, res.Error)
}

func TestRunCmd_ConfiguredRewardIncrement(t *testing.T) {
	tests := []struct {
		name      string
		increment string
		want      float64
	}{
		{"zero", "0", 0},
		{"half", "0.5", 0.5},
		{"two", "2", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := setupEnv(t)
			home, err := os.UserHomeDir()
			require.NoError(t, err)
			dir := filepath.Join(home, ".config", "issueflow")
			require.NoError(t, os.MkdirAll(dir, 0o700))
			cfg := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(cfg, []byte("engine:\n  reward_increment: "+tt.increment+"\n"), 0o600))

			out, err := execute(t, `{"status":"crashed","service":"api"}`, "run", "--config", cfg, "--rules", rules, "-")
			require.NoError(t, err)

			var res struct {
				Reward float64        `json:"reward"`
				Issue  map[string]any `json:"issue"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			// Two phases, each invoked once.
			assert.Equal(t, 2*tt.want, res.Reward)
			assert.Equal(t, 2*tt.want, res.Issue[issue.KeyReward])
		})
	}
}

func TestRunCmd_ArrayFromFile(t *testing.T) {
	rules := setupEnv(t)
	input := filepath.Join(t.TempDir(), "issues.json")
	require.NoError(t, os.WriteFile(input, []byte(`[{"status":"ok"},{"status":"crashed","service":"db"}]`), 0o600))

	out, err := execute(t, "", "run", "--rules", rules, input)
	require.NoError(t, err)

	var res []struct {
		Issue map[string]any `json:"issue"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res, 2)
	assert.NotContains(t, res[0].Issue, "action")
	assert.Equal(t, "restart db", res[1].Issue["action"])
}

func TestRunCmd_BadInput(t *testing.T) {
	rules := setupEnv(t)

	_, err := execute(t, "", "run", "--rules", rules)
	assert.Error(t, err)

	_, err = execute(t, "[1", "run", "--rules", rules)
	assert.Error(t, err)

	_, err = execute(t, "", "run", "--rules", rules, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRunCmd_BadRules(t *testing.T) {
	setupEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("phase: p\nrules: [{kind: A}]"), 0o600))

	_, err := execute(t, `{}`, "run", "--rules", dir)
	assert.Error(t, err)
}

type failingEngine struct{}

func (failingEngine) Process(_ context.Context, is *issue.Issue) (*orchestrator.PassResult, error) {
	is.Reward = 1
	return &orchestrator.PassResult{}, assert.AnError
}

func TestRunIssues_ReportsFailures(t *testing.T) {
	var out bytes.Buffer
	err := runIssues(context.Background(), failingEngine{}, []byte(`[{},{}]`), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2")
	assert.Equal(t, 2, strings.Count(out.String(), assert.AnError.Error()))
}

func TestInitLogger(t *testing.T) {
	tel, err := telemetry.New(context.Background(), &telemetry.Config{Enabled: false})
	require.NoError(t, err)

	for _, output := range []string{"", "stderr", "stdout", "otel"} {
		l, err := initLogger(config.LoggingConfig{Level: "debug", Format: "console", Output: output}, tel)
		require.NoError(t, err, output)
		assert.NotNil(t, l)
	}

	_, err = initLogger(config.LoggingConfig{Level: "info", Output: "syslog"}, tel)
	assert.Error(t, err)
	_, err = initLogger(config.LoggingConfig{Level: "loud"}, tel)
	assert.Error(t, err)
}

func TestApp_LoadSwapsEngine(t *testing.T) {
	rulesDir := setupEnv(t)
	ctx := context.Background()

	a, err := newApp(ctx, &rootOptions{rulesDir: rulesDir})
	require.NoError(t, err)
	defer a.Close(ctx)
	require.Len(t, a.engine.Phases(), 2)

	require.NoError(t, os.Remove(filepath.Join(rulesDir, "20-fix.yaml")))
	files, err := rules.LoadDir(rulesDir)
	require.NoError(t, err)
	require.NoError(t, a.load(ctx, files))

	phases := a.engine.Phases()
	require.Len(t, phases, 1)
	assert.Equal(t, "10-detect", phases[0].Name)

	is, err := issue.New(map[string]any{"status": "crashed"})
	require.NoError(t, err)
	res, err := a.engine.Process(ctx, is)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Reward)
	assert.False(t, is.Has("action"))
}

func TestHeartbeat(t *testing.T) {
	rulesDir := setupEnv(t)
	a, err := newApp(context.Background(), &rootOptions{rulesDir: rulesDir})
	require.NoError(t, err)
	defer a.Close(context.Background())

	logs := logging.NewTestLogger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		heartbeat(ctx, logs.Logger, a.engine, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("issueflow alive").Len() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	logs.AssertLogged(t, zapcore.InfoLevel, "issueflow alive")
	logs.AssertField(t, "issueflow alive", "heartbeat", true)
	logs.AssertField(t, "issueflow alive", "phases", int64(2))
}
