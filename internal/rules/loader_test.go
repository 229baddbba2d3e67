package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detectYAML = `
phase: 10-detect
rules:
  - kind: FlagCrash
    description: mark crashed services
    test: 'status == "crashed" && has_crash_flag != true'
    set:
      has_crash_flag: 'true'
`

const remediateYAML = `
phase: 20-remediate-alternative
rules:
  - kind: Restart
    test: 'has_crash_flag == true ? [service] : nil'
    set:
      action: '"restart"'
    unset: [has_crash_flag, status]
  - kind: Escalate
    test: 'has_crash_flag == true'
    set:
      action: '"page"'
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(remediateYAML))
	require.NoError(t, err)

	assert.Equal(t, "20-remediate-alternative", f.Phase)
	require.Len(t, f.Plugins, 2)
	assert.Equal(t, "Restart", f.Plugins[0].Kind())
	assert.Equal(t, "Escalate", f.Plugins[1].Kind())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", "  \n"},
		{"no phase", "rules: [{kind: A, test: 'true'}]"},
		{"duplicate kind", "phase: p\nrules: [{kind: A, test: 'true'}, {kind: A, test: 'false'}]"},
		{"unknown field", "phase: p\nrules: [{kind: A, test: 'true', bogus: 1}]"},
		{"bad yaml", "phase: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-remediate.yml", remediateYAML)
	writeFile(t, dir, "a-detect.yaml", detectYAML)
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o700))

	files, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "10-detect", files[0].Phase)
	assert.Equal(t, filepath.Join(dir, "a-detect.yaml"), files[0].Path)
	assert.Equal(t, "20-remediate-alternative", files[1].Phase)
}

func TestLoadDir_Missing(t *testing.T) {
	files, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Nil(t, files)

	files, err = LoadDir("")
	require.NoError(t, err)
	assert.Nil(t, files)
}

func TestLoadDir_ReportsBadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "phase: p\nrules: [{kind: A}]")

	_, err := LoadDir(dir)
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestRegister(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", detectYAML)
	writeFile(t, dir, "b.yaml", remediateYAML)
	files, err := LoadDir(dir)
	require.NoError(t, err)

	reg := plugin.NewRegistry()
	require.NoError(t, Register(reg, files))
	assert.Equal(t, []string{"10-detect", "20-remediate-alternative"}, reg.Phases())
	assert.Equal(t, 3, reg.Len())

	assert.ErrorIs(t, Register(reg, files), plugin.ErrDuplicateKind)
}

func TestLoadedRulesAct(t *testing.T) {
	f, err := Parse([]byte(detectYAML))
	require.NoError(t, err)
	p := f.Plugins[0]

	is, err := issue.New(map[string]any{"status": "crashed"})
	require.NoError(t, err)

	ctxs, err := p.Test(context.Background(), is)
	require.NoError(t, err)
	require.Equal(t, []plugin.Context{"true"}, ctxs)

	require.NoError(t, p.Act(context.Background(), is, ctxs[0]))
	ctxs, err = p.Test(context.Background(), is)
	require.NoError(t, err)
	assert.Empty(t, ctxs)
}

const detectTOML = `
phase = "10-detect"

[[rules]]
kind = "FlagCrash"
description = "mark crashed services"
test = 'status == "crashed" && has_crash_flag != true'
unset = ["noise"]
set = { has_crash_flag = "true" }
`

func TestParseTOML(t *testing.T) {
	f, err := ParseTOML([]byte(detectTOML))
	require.NoError(t, err)
	assert.Equal(t, "10-detect", f.Phase)
	require.Len(t, f.Plugins, 1)
	assert.Equal(t, "mark crashed services", f.Plugins[0].Description())

	_, err = ParseTOML([]byte("phase = \"p\"\n[[rules]]\nkind = \"A\"\ntest = \"true\"\nbogus = 1\n"))
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = ParseTOML([]byte("phase = "))
	assert.Error(t, err)
}

func TestLoadDir_MixedFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-detect.toml", detectTOML)
	writeFile(t, dir, "20-remediate.yaml", remediateYAML)

	files, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "10-detect", files[0].Phase)
	assert.Equal(t, "20-remediate-alternative", files[1].Phase)
}
