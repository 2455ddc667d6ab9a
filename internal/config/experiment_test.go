package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flylab-data/braidtrigger/internal/trigger"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "experiment.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadExperimentConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `{"braid_url": "http://braid.local:8397", "sham_fraction": 0.2}`)

	cfg, err := LoadExperimentConfig(path)
	require.NoError(t, err)

	require.Equal(t, "http://braid.local:8397", cfg.GetBraidURL())
	require.Equal(t, 0.2, cfg.GetShamFraction())

	// everything else falls back to defaults
	require.Equal(t, "radius", cfg.GetZoneType())
	require.Equal(t, time.Second, cfg.GetMinTriggerInterval())
	require.Equal(t, 10, cfg.GetHeadingWindow())
	require.Equal(t, 30*time.Second, cfg.GetStaleAfter())
	require.Equal(t, ":8080", cfg.GetListenAddr())
	require.False(t, cfg.GetOptoEnabled())
}

func TestLoadExperimentConfig_RejectsNonJSONExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := LoadExperimentConfig(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), ".json extension")
}

func TestLoadExperimentConfig_RejectsMissingFile(t *testing.T) {
	_, err := LoadExperimentConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"bad zone type", `{"zone_type": "sphere"}`, "zone_type"},
		{"negative radius", `{"zone_radius": -1}`, "zone_radius"},
		{"sham fraction above one", `{"sham_fraction": 1.5}`, "sham_fraction"},
		{"bad duration", `{"min_trigger_interval": "soon"}`, "min_trigger_interval"},
		{"zero heading window", `{"heading_window": 0}`, "heading_window"},
		{"camera without serial", `{"cameras": [{"fps": 100}]}`, "serial"},
		{"camera bad fps", `{"cameras": [{"serial": "a", "fps": 0}]}`, "fps"},
		{"opto without port", `{"opto_enabled": true}`, "opto_port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadExperimentConfig(writeConfig(t, tt.json))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTriggerConfig_RadiusResolution(t *testing.T) {
	cfg, err := LoadExperimentConfig(writeConfig(t, `{
		"zone_type": "radius",
		"zone_radius": 0.1,
		"zone_cx": 0.02,
		"zone_z_min": 0.05,
		"zone_z_max": 0.25,
		"min_trajectory_time": "100ms",
		"min_trigger_interval": "2s",
		"opto_duration": 500
	}`))
	require.NoError(t, err)

	tc := cfg.TriggerConfig()
	require.NoError(t, tc.Validate())
	require.Equal(t, trigger.ZoneRadius, tc.ZoneType)
	require.NotNil(t, tc.Radius)
	require.Equal(t, 0.1, tc.Radius.Radius)
	require.Equal(t, 0.02, tc.Radius.CenterX)
	require.Equal(t, 0.05, tc.Radius.ZMin)
	require.Equal(t, 100*time.Millisecond, tc.MinTrajectoryTime)
	require.Equal(t, 2*time.Second, tc.MinTriggerInterval)
	require.Equal(t, 500.0, tc.Opto.Duration)
	require.Equal(t, 255.0, tc.Opto.Intensity, "unset intensity keeps default")
}

func TestTriggerConfig_BoxResolution(t *testing.T) {
	cfg, err := LoadExperimentConfig(writeConfig(t, `{
		"zone_type": "box",
		"box_x_min": -0.2, "box_x_max": 0.2,
		"box_y_min": -0.1, "box_y_max": 0.1,
		"box_z_min": 0.0, "box_z_max": 0.5
	}`))
	require.NoError(t, err)

	tc := cfg.TriggerConfig()
	require.NoError(t, tc.Validate())
	require.Equal(t, trigger.ZoneBox, tc.ZoneType)
	require.NotNil(t, tc.Box)
	require.Equal(t, -0.2, tc.Box.XMin)
	require.Equal(t, 0.5, tc.Box.ZMax)
}

func TestCameraConfigs_Resolution(t *testing.T) {
	cfg, err := LoadExperimentConfig(writeConfig(t, `{
		"cameras": [
			{"serial": "23047980", "fps": 200, "time_before": "500ms", "time_after": "1s"},
			{"serial": "23047981"}
		]
	}`))
	require.NoError(t, err)
	require.True(t, cfg.GetCamerasEnabled(), "cameras present implies enabled")

	cams := cfg.CameraConfigs()
	require.Len(t, cams, 2)
	require.Equal(t, "23047980", cams[0].Serial)
	require.Equal(t, 200.0, cams[0].FPS)
	require.Equal(t, 500*time.Millisecond, cams[0].TimeBefore)
	require.Equal(t, 100.0, cams[1].FPS, "fps default")
	require.Equal(t, 2*time.Second, cams[1].TimeAfter, "time_after default")
}

func TestDefaultsFileLoads(t *testing.T) {
	cfg, err := LoadExperimentConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	tc := cfg.TriggerConfig()
	require.NoError(t, tc.Validate())
}
