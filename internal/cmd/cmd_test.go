package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/studytrack/internal/config"
	"github.com/danielpatrickdp/studytrack/internal/remote"
	"github.com/danielpatrickdp/studytrack/internal/replay"
)

// #region helpers

type env struct {
	dir    string
	config string
	remote string
}

// newEnv writes a config with a sqlite store in a temp dir and no remote.
func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "local.db")
	cfg.Remote.SQLPath = filepath.Join(dir, "remote.db")
	cfg.Log.Level = "error"
	path := filepath.Join(dir, "studytrack.yaml")
	require.NoError(t, cfg.SaveToFile(path))
	return env{dir: dir, config: path, remote: cfg.Remote.SQLPath}
}

// run executes the CLI with stdin and returns stdout.
func (e env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func (e env) writeInputs(t *testing.T) string {
	t.Helper()
	path := filepath.Join(e.dir, "inputs.json")
	data := `{
  "outcomes": [{"scenario_id": 1, "label": "Safety"}, {"scenario_id": 2, "label": "Fairness"}],
  "final_metrics": {"lives_saved": 10000, "casualties": 500, "resource_efficiency": 50,
    "fairness": 50, "sustainability": 50, "public_trust": 50, "infrastructure_intact": 50},
  "matched_stable_values": ["safety"],
  "moral_values_reorder_list": ["fairness"]
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

// script records two scenarios and completes the study.
func (e env) script(t *testing.T) string {
	return strings.Join([]string{
		"start 1",
		"select a Safety yes",
		"select b Speed no",
		"select a Safety yes",
		"confirm a Safety yes",
		"end",
		"start 2",
		"cvr",
		"answer no",
		"apa values safety,fairness fairness,safety",
		"select c Fairness yes",
		"confirm c Fairness yes",
		"end",
		"feedback 4 clear scenarios",
		"complete " + e.writeInputs(t),
		"quit",
	}, "\n")
}

// #endregion helpers

// #region run-tests

func TestRunRecordsAndCompletesSession(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, e.script(t), "run", "--session", "p-1")
	require.NoError(t, err)

	assert.Contains(t, out, "[scenario 1] closed switches=2")
	assert.Contains(t, out, "[scenario 2] closed switches=0 cvr=1 apa=1")
	assert.Contains(t, out, "feedback recorded")
	assert.Contains(t, out, "alignment:   [true true]")
	assert.NotContains(t, out, "error:")

	out, err = e.run(t, "", "inspect", "--session", "p-1", "--json")
	require.NoError(t, err)
	var d detail
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Len(t, d.History, 2)
	assert.Nil(t, d.Live)
	require.NotNil(t, d.DVs)
	assert.Equal(t, 2, d.DVs.SwitchCountTotal)
	assert.Equal(t, 1, d.Pending[remote.TableSessionFeedback])
	assert.Equal(t, 1, d.Pending[remote.TableSessionMetrics])
}

func TestRunPrintsLifecycleErrorsAndContinues(t *testing.T) {
	e := newEnv(t)
	script := strings.Join([]string{
		"confirm a Safety yes",
		"start 1",
		"start 2",
		"bogus",
		"select a",
		"end",
		"status",
	}, "\n")
	out, err := e.run(t, script, "run", "--session", "p-2")
	require.NoError(t, err)

	assert.Contains(t, out, "error: confirm option")
	assert.Contains(t, out, "error: start scenario: scenario 1 is still live")
	assert.Contains(t, out, `error: unknown command "bogus"`)
	assert.Contains(t, out, "error: usage: select")
	assert.Contains(t, out, "[scenario 1] closed")
	assert.Contains(t, out, "live: none")
	assert.Contains(t, out, "closed: 1")
}

func TestRunResumesOpenScenario(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "start 3\nselect a Safety yes\n", "run", "--session", "p-3")
	require.NoError(t, err)

	out, err := e.run(t, "status\nselect b Speed yes\nend\n", "run", "--session", "p-3")
	require.NoError(t, err)
	assert.Contains(t, out, "live: scenario 3 (in_progress) selections=1")
	assert.Contains(t, out, "[scenario 3] closed switches=1")
}

// #endregion run-tests

// #region command-tests

func TestInspectListsSessions(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "", "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "no sessions found")

	_, err = e.run(t, e.script(t), "run", "--session", "p-1")
	require.NoError(t, err)
	out, err = e.run(t, "", "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "p-1")
	assert.Contains(t, out, "true")
}

func TestSyncDrainsQueueIntoSQLRemote(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, e.script(t), "run", "--session", "p-1")
	require.NoError(t, err)

	t.Setenv("STUDYTRACK_REMOTE_KIND", "sql")
	out, err := e.run(t, "", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "[p-1] sync")
	assert.Contains(t, out, "failed=0")

	out, err = e.run(t, "", "inspect", "--session", "p-1")
	require.NoError(t, err)
	assert.Contains(t, out, "pending: none")

	sink, err := remote.OpenSQLStore(e.remote)
	require.NoError(t, err)
	defer sink.Close()
	recs, err := sink.Records(context.Background(), remote.TableSessionFeedback, "p-1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	recs, err = sink.Records(context.Background(), remote.TableCVRResponses, "p-1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDeriveUsesStoredInputs(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, e.script(t), "run", "--session", "p-1")
	require.NoError(t, err)

	out, err := e.run(t, "", "derive", "--session", "p-1", "--json")
	require.NoError(t, err)
	var dvs struct {
		Alignment []bool `json:"final_alignment_by_scenario"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &dvs))
	assert.Equal(t, []bool{true, true}, dvs.Alignment)

	_, err = e.run(t, "", "derive", "--session", "nobody")
	assert.ErrorContains(t, err, "no stored inputs")
}

func TestReplayAndExportFixture(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, e.script(t), "run", "--session", "p-1")
	require.NoError(t, err)

	out, err := e.run(t, "", "replay", "--session", "p-1")
	require.NoError(t, err)
	assert.Contains(t, out, "PASS  session p-1  (2 scenarios, 0 skipped events)")

	fixture := filepath.Join(e.dir, "fixtures", "p-1.json")
	out, err = e.run(t, "", "export-fixture", "--session", "p-1", "--out", fixture, "--description", "cli export")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+fixture)

	f, err := replay.LoadFixture(fixture)
	require.NoError(t, err)
	assert.Equal(t, "cli export", f.Description)

	out, err = e.run(t, "", "replay", fixture, filepath.Join("..", "replay", "testdata", "session_basic.json"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "PASS"))
}

func TestReplayReportsMismatch(t *testing.T) {
	e := newEnv(t)
	f, err := replay.LoadFixture(filepath.Join("..", "replay", "testdata", "session_unclosed.json"))
	require.NoError(t, err)
	wrong := 3
	f.Expected.SwitchCountTotal = &wrong
	path := filepath.Join(e.dir, "wrong.json")
	require.NoError(t, f.Save(path))

	out, err := e.run(t, "", "replay", path)
	assert.ErrorContains(t, err, "1 replay(s) mismatched")
	assert.Contains(t, out, "FAIL  "+path)
	assert.Contains(t, out, "switch_count_total")
}

func TestReplayRequiresInput(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "replay")
	assert.Error(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.yaml")
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, root.Execute())
	assert.FileExists(t, path)

	root = NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "config", "init"})
	assert.ErrorContains(t, root.Execute(), "already exists")

	t.Setenv("STUDYTRACK_STORAGE_BACKEND", "bolt")
	out.Reset()
	root = NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "config", "show"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "backend: bolt")
}

// #endregion command-tests

// #region helper-tests

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{"yes": true, "Y": true, "no": false, "true": true, "0": false} {
		got, err := parseBool(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseBool("maybe")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Nil(t, splitList(""))
}

// #endregion helper-tests
