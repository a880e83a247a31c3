package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/class-reports/internal/config"
	"github.com/JakeFAU/class-reports/internal/server"
)

type fakeRunner struct {
	got    server.Components
	closed bool
}

func (f *fakeRunner) Run(_ context.Context, c server.Components) error {
	f.got = c
	return context.Canceled
}

func (f *fakeRunner) Close(context.Context) error {
	f.closed = true
	return nil
}

// These tests swap the package-level factory and so run sequentially.

func withFakeApp(t *testing.T) *fakeRunner {
	t.Helper()
	fake := &fakeRunner{}
	orig := newApp
	newApp = func(context.Context, config.Config) (Runner, error) { return fake, nil }
	t.Cleanup(func() { newApp = orig })
	return fake
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommandsSelectComponents(t *testing.T) {
	cases := map[string]server.Components{
		"serve":  {API: true, Workers: true, Reaper: true},
		"api":    {API: true},
		"worker": {Workers: true, Reaper: true},
	}
	for use, want := range cases {
		t.Run(use, func(t *testing.T) {
			fake := withFakeApp(t)
			_, err := execute(t, use)
			require.NoError(t, err)
			require.Equal(t, want, fake.got)
			require.True(t, fake.closed)
		})
	}
}

func TestMissingConfigFileFails(t *testing.T) {
	withFakeApp(t)
	_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := execute(t, "migrate", "up")
	require.ErrorContains(t, err, "database.dsn is required")
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	_, err := execute(t, "migrate", "sideways")
	require.Error(t, err)
}

func TestReapRunsOneSweep(t *testing.T) {
	out, err := execute(t, "reap")
	require.NoError(t, err)
	require.Contains(t, out, "reaped 0 request(s)")
}
