package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/senas/internal/gesture"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvAddr, EnvCamera, EnvDataDir, EnvUserID} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "senas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Zero(t, cfg.Server.WriteTimeout)
	assert.Equal(t, 0, cfg.Camera.DeviceID)
	assert.Equal(t, 5, cfg.Camera.Manager.MaxOpenAttempts)
	assert.Equal(t, 10*time.Second, cfg.Camera.Manager.IdleTimeout)
	assert.True(t, cfg.Pipeline.SquareCrop)
	assert.Equal(t, 80, cfg.Pipeline.JPEGQuality)
	assert.Equal(t, 0.02, cfg.Stabilizer.MovementThreshold)
	assert.Equal(t, 5, cfg.Stabilizer.MovementFrames)
	assert.Equal(t, 3*time.Second, cfg.Stabilizer.Validity)
	assert.False(t, cfg.Stabilizer.ResetOnOpen)
	assert.False(t, cfg.Models.RequireModel)
	assert.False(t, cfg.Models.StreamWithoutModel)
	assert.True(t, cfg.Training.AutoLoad)
	assert.Equal(t, DefaultRetention, cfg.Store.Retention)
	require.NoError(t, cfg.Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "models"), cfg.Models.Dir)
	assert.Equal(t, filepath.Join(dir, "dataset"), cfg.Training.DatasetDir)
	assert.Equal(t, filepath.Join(dir, "senas.db"), cfg.Store.Path)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
data_dir: /var/lib/senas
server:
  addr: 127.0.0.1:9000
  debug: true
camera:
  device_id: 2
  manager:
    idle_timeout: 30s
pipeline:
  square_crop: false
  jpeg_quality: 90
stabilizer:
  validity: 5s
  reset_on_open: true
models:
  dir: /srv/models
  default_user: alice
  require_model: true
  stream_without_model: true
  static_labels: [A, B]
  dynamic_labels: [J]
store:
  path: events.db
  retention: 48h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, 2, cfg.Camera.DeviceID)
	assert.Equal(t, 30*time.Second, cfg.Camera.Manager.IdleTimeout)
	assert.Equal(t, 5, cfg.Camera.Manager.MaxOpenAttempts, "unset nested fields keep defaults")
	assert.False(t, cfg.Pipeline.SquareCrop)
	assert.Equal(t, 90, cfg.Pipeline.JPEGQuality)
	assert.Equal(t, 5*time.Second, cfg.Stabilizer.Validity)
	assert.True(t, cfg.Stabilizer.ResetOnOpen)
	assert.Equal(t, "/srv/models", cfg.Models.Dir)
	assert.Equal(t, "alice", cfg.Models.DefaultUser)
	assert.True(t, cfg.Models.RequireModel)
	assert.True(t, cfg.Models.StreamWithoutModel)
	assert.Equal(t, "/var/lib/senas/events.db", cfg.Store.Path)
	assert.Equal(t, 48*time.Hour, cfg.Store.Retention)

	ls, err := cfg.LabelSets()
	require.NoError(t, err)
	assert.Equal(t, gesture.TypeStatic, ls.TypeOf("A"))
	assert.Equal(t, gesture.TypeDynamic, ls.TypeOf("J"))
	assert.Equal(t, gesture.TypeUnknown, ls.TypeOf("C"))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  addr: :7000\nmodels:\n  default_user: alice\n")
	dir := t.TempDir()
	t.Setenv(EnvAddr, ":9100")
	t.Setenv(EnvCamera, "3")
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvUserID, "bob")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Camera.DeviceID)
	assert.Equal(t, "bob", cfg.Models.DefaultUser)
	assert.Equal(t, filepath.Join(dir, "models"), cfg.Models.Dir)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "unknown field", body: "server:\n  port: 8080\n"},
		{name: "malformed yaml", body: "server: [\n"},
		{name: "bad jpeg quality", body: "pipeline:\n  jpeg_quality: 101\n"},
		{name: "negative device", body: "camera:\n  device_id: -1\n"},
		{name: "overlapping labels", body: "models:\n  static_labels: [A]\n  dynamic_labels: [A]\n"},
		{name: "negative retention", body: "store:\n  retention: -1h\n"},
		{name: "bad default user", body: "models:\n  default_user: ../etc\n"},
		{name: "bad camera env", env: map[string]string{EnvCamera: "front"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvDataDir, t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
}

func TestLoad_StoreDisabled(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDataDir, t.TempDir())

	cfg, err := Load(writeConfig(t, "store:\n  disabled: true\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Store.Path)
}

func TestLabelSets_Default(t *testing.T) {
	cfg := Default()
	ls, err := cfg.LabelSets()
	require.NoError(t, err)

	s, d := ls.Len()
	assert.Equal(t, len(gesture.DefaultStaticLabels), s)
	assert.Equal(t, len(gesture.DefaultDynamicLabels), d)
}
