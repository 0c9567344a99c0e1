package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config at an empty temp file and clears BTK_*
// overrides, returning the config path.
func isolate(t *testing.T) string {
	t.Helper()
	for _, env := range []string{"BTK_LOG_LEVEL", "BTK_EXPR_CACHE_SIZE", "BTK_TREE", "BTK_AGENTS"} {
		t.Setenv(env, "")
	}
	path := filepath.Join(t.TempDir(), "config")
	t.Setenv("BTK_CONFIG", path)
	return path
}

func decodeRecords(t *testing.T, out []byte) []record {
	t.Helper()
	var recs []record
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		var r record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), "line %q", sc.Text())
		recs = append(recs, r)
	}
	return recs
}

func TestRun_TicksUntilFinished(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{"-interval", "1ms", "-ticks", "0", "testdata/guard.yaml"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	recs := decodeRecords(t, stdout.Bytes())
	require.Len(t, recs, 3)
	for i, r := range recs[:2] {
		assert.Equal(t, "agent-0", r.Agent)
		assert.Equal(t, i+1, r.Tick)
		assert.Equal(t, "running", r.Status)
		assert.Equal(t, "running", r.State)
		require.NotNil(t, r.Knowledge)
		assert.Equal(t, "guard", r.Knowledge.Tree)
		assert.Equal(t, []int{0}, r.Knowledge.RelevantNodes, "only the loop keeps state between ticks")
	}

	last := recs[2]
	assert.Equal(t, "success", last.Status)
	assert.Equal(t, "finished", last.State)
	require.NotNil(t, last.Knowledge)
	assert.Empty(t, last.Knowledge.RelevantNodes)
	assert.Equal(t, map[string]any{"shots": float64(3), "alert": true}, last.Knowledge.Blackboard)
	assert.Contains(t, stderr.String(), "tree compiled")
}

func TestRun_AgentsAreIndependent(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{"-agents", "3", "-ticks", "2", "-interval", "1ms", "-log-level", "warn", "-tree", "testdata/guard.yaml"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.NotContains(t, stderr.String(), "tree compiled")

	perAgent := map[string][]record{}
	for _, r := range decodeRecords(t, stdout.Bytes()) {
		perAgent[r.Agent] = append(perAgent[r.Agent], r)
	}
	require.Len(t, perAgent, 3)
	for name, recs := range perAgent {
		require.Len(t, recs, 2, name)
		bb := recs[1].Knowledge.Blackboard.(map[string]any)
		assert.Equal(t, float64(2), bb["shots"], "%s shares no blackboard", name)
		assert.Equal(t, "running", recs[1].State)
	}
}

func TestRun_TreeArgumentBeatsEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("BTK_TREE", "testdata/does-not-exist.yaml")
	var stdout, stderr bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"-interval", "1ms", "testdata/guard.yaml"}, &stdout, &stderr), stderr.String())
	assert.Len(t, decodeRecords(t, stdout.Bytes()), 3)

	stdout.Reset()
	err := run(context.Background(), []string{"-interval", "1ms"}, &stdout, &stderr)
	require.ErrorContains(t, err, "does-not-exist.yaml")
}

func TestRun_ConfigFile(t *testing.T) {
	path := isolate(t)
	tree, err := filepath.Abs("testdata/guard.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("log-level error\ntree "+tree+"\n\n[run]\nticks 1\ninterval 1ms\nagents 2\n"), 0o644))

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), nil, &stdout, &stderr))
	assert.Len(t, decodeRecords(t, stdout.Bytes()), 2)
	assert.Empty(t, stderr.String())
}

func TestRun_SetWritesConfig(t *testing.T) {
	path := isolate(t)
	var stdout, stderr bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"-set", "run.agents=4"}, &stdout, &stderr))
	require.NoError(t, run(context.Background(), []string{"-set", "log-level=debug"}, &stdout, &stderr))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "log-level debug\n[run]\nagents 4\n", string(data))

	require.ErrorContains(t, run(context.Background(), []string{"-set", "run.agents=many"}, &stdout, &stderr), "agents")
	require.ErrorContains(t, run(context.Background(), []string{"-set", "colour=auto"}, &stdout, &stderr), "unknown option")
	require.Error(t, run(context.Background(), []string{"-set", "novalue"}, &stdout, &stderr))
}

func TestRun_Errors(t *testing.T) {
	isolate(t)

	for _, tc := range []struct {
		name string
		args []string
		want string
	}{
		{"no tree", nil, "no tree asset"},
		{"missing file", []string{"testdata/nope.yaml"}, "nope.yaml"},
		{"two trees", []string{"a.yaml", "b.yaml"}, "at most one"},
		{"bad agents", []string{"-agents", "-1", "testdata/guard.yaml"}, "invalid run settings"},
		{"bad log level", []string{"-log-level", "loud", "testdata/guard.yaml"}, "-log-level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), tc.args, &stdout, &stderr)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRun_InfoFlags(t *testing.T) {
	isolate(t)
	var stdout, stderr bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"-version"}, &stdout, &stderr))
	assert.Equal(t, "btk version "+version+"\n", stdout.String())

	stdout.Reset()
	require.NoError(t, run(context.Background(), []string{"-config-help"}, &stdout, &stderr))
	assert.True(t, strings.HasPrefix(stdout.String(), "Global options:"))
	assert.Contains(t, stdout.String(), "[run] options:")
}

func TestRun_CancelledContextStopsEarly(t *testing.T) {
	isolate(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	require.NoError(t, run(ctx, []string{"-ticks", "0", "-interval", "1h", "-log-level", "error", "testdata/guard.yaml"}, &stdout, &stderr))
	recs := decodeRecords(t, stdout.Bytes())
	require.Len(t, recs, 1)
	assert.Equal(t, "running", recs[0].State)
}
