package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/alarmd/internal/alarm"
	"github.com/msageha/alarmd/internal/model"
	"github.com/msageha/alarmd/internal/uds"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	var cli CLI
	cli.out = &out
	parser, err := kong.New(&cli, kong.Name("alarmd"), kong.Bind(&cli.Globals))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	if err != nil {
		return "", err
	}
	err = ctx.Run()
	return out.String(), err
}

func TestFindDataDir(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, ".alarmd")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(base, 0755))
	require.NoError(t, os.MkdirAll(nested, 0755))

	assert.Equal(t, base, findDataDir(nested))
	assert.Equal(t, base, findDataDir(root))
	assert.Empty(t, findDataDir(t.TempDir()))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(dir)
	require.NoError(t, err, "a missing config falls back to defaults")
	assert.Equal(t, model.Config{}, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store:\n  backend: sqlite\n"), 0644))
	cfg, err = loadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [\n"), 0644))
	_, err = loadConfig(dir)
	assert.Error(t, err)
}

func TestDataDir_LoadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ALARMD_TEST_ONLY_VAR=from-dotenv\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("ALARMD_TEST_ONLY_VAR") })

	g := &Globals{Dir: dir}
	got, err := g.dataDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.Equal(t, "from-dotenv", envOr("", "ALARMD_TEST_ONLY_VAR"))
	assert.Equal(t, "flag", envOr("flag", "ALARMD_TEST_ONLY_VAR"))
}

func TestDataDir_Missing(t *testing.T) {
	g := &Globals{Dir: filepath.Join(t.TempDir(), "nope")}
	_, err := g.dataDir()
	assert.ErrorIs(t, err, errNoDataDir)
}

func TestSetupAndRulesSummary(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "setup", dir)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, ".alarmd"))

	out, err = run(t, "--dir", filepath.Join(dir, ".alarmd"), "rules", "summary")
	require.NoError(t, err)
	assert.Equal(t, "1 global groups, 1 apps, 1 app groups\n", out)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "alarmd "+version+"\n", out)
}

func TestAlarmCommandTalksToDaemon(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "alarmd-c-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	var got model.ActionParams
	srv := uds.NewServer(filepath.Join(dir, uds.DefaultSocketName))
	srv.Handle("do_action", func(req *uds.Request) *uds.Response {
		if err := req.DecodeParams(&got); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
		}
		return uds.SuccessResponse(alarm.Snapshot{State: alarm.Pending})
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	out, err := run(t, "--dir", dir, "alarm", "start")
	require.NoError(t, err)
	assert.Equal(t, "alarm pending\n", out)
	assert.Equal(t, model.ActionStartAlarm, got.Action)

	out, err = run(t, "--dir", dir, "action", "103")
	require.NoError(t, err)
	assert.Equal(t, "stop_observation sent, alarm pending\n", out)
	assert.Equal(t, model.ActionStopObservation, got.Action)

	_, err = run(t, "--dir", dir, "action", "99")
	assert.Error(t, err)

	_, err = run(t, "--dir", dir, "alarm", "snooze")
	assert.Error(t, err, "enum rejects unknown ops")
}

func TestCommandWithoutDaemonFails(t *testing.T) {
	_, err := run(t, "--dir", t.TempDir(), "click")
	assert.Error(t, err)
}
