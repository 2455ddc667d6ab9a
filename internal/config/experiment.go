package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flylab-data/braidtrigger/internal/camera"
	"github.com/flylab-data/braidtrigger/internal/trigger"
)

// DefaultConfigPath is the path to the canonical experiment defaults file.
// This is the single source of truth for all default experiment values.
const DefaultConfigPath = "config/experiment.defaults.json"

// ExperimentConfig represents the root configuration for one experiment
// run. Fields omitted from the JSON file retain their defaults via the
// Get* accessors, so partial configs are safe.
type ExperimentConfig struct {
	// Braid connection
	BraidURL *string `json:"braid_url,omitempty"`

	// Trigger zone params
	ZoneType   *string  `json:"zone_type,omitempty"` // "radius" or "box"
	ZoneRadius *float64 `json:"zone_radius,omitempty"`
	ZoneCX     *float64 `json:"zone_cx,omitempty"`
	ZoneCY     *float64 `json:"zone_cy,omitempty"`
	ZoneZMin   *float64 `json:"zone_z_min,omitempty"`
	ZoneZMax   *float64 `json:"zone_z_max,omitempty"`
	BoxXMin    *float64 `json:"box_x_min,omitempty"`
	BoxXMax    *float64 `json:"box_x_max,omitempty"`
	BoxYMin    *float64 `json:"box_y_min,omitempty"`
	BoxYMax    *float64 `json:"box_y_max,omitempty"`
	BoxZMin    *float64 `json:"box_z_min,omitempty"`
	BoxZMax    *float64 `json:"box_z_max,omitempty"`

	// Trigger timing params
	MinTrajectoryTime  *string  `json:"min_trajectory_time,omitempty"`  // duration string like "1s"
	MinTriggerInterval *string  `json:"min_trigger_interval,omitempty"` // duration string like "1s"
	ShamFraction       *float64 `json:"sham_fraction,omitempty"`

	// Tracker params
	HeadingWindow *int    `json:"heading_window,omitempty"`
	StaleAfter    *string `json:"stale_after,omitempty"` // duration string like "30s"

	// Opto board params
	OptoEnabled   *bool    `json:"opto_enabled,omitempty"`
	OptoPort      *string  `json:"opto_port,omitempty"`
	OptoDuration  *float64 `json:"opto_duration,omitempty"`
	OptoIntensity *float64 `json:"opto_intensity,omitempty"`
	OptoFrequency *float64 `json:"opto_frequency,omitempty"`

	// Display params
	DisplayEnabled *bool `json:"display_enabled,omitempty"`

	// Camera params
	CamerasEnabled *bool          `json:"cameras_enabled,omitempty"`
	CaptureDir     *string        `json:"capture_dir,omitempty"`
	Cameras        []CameraConfig `json:"cameras,omitempty"`

	// Output params
	TriggerCSVPath *string `json:"trigger_csv_path,omitempty"`
	WindowCSVPath  *string `json:"window_csv_path,omitempty"`
	WindowBefore   *int    `json:"window_before,omitempty"`
	WindowAfter    *int    `json:"window_after,omitempty"`
	DBPath         *string `json:"db_path,omitempty"`

	// Server params
	ListenAddr *string `json:"listen_addr,omitempty"`
}

// CameraConfig configures one high-speed camera.
type CameraConfig struct {
	Serial     *string  `json:"serial,omitempty"`
	FPS        *float64 `json:"fps,omitempty"`
	TimeBefore *string  `json:"time_before,omitempty"` // duration string like "1s"
	TimeAfter  *string  `json:"time_after,omitempty"`
}

// EmptyExperimentConfig returns an ExperimentConfig with all fields nil.
// Use LoadExperimentConfig to load actual values from a file.
func EmptyExperimentConfig() *ExperimentConfig {
	return &ExperimentConfig{}
}

// LoadExperimentConfig loads an ExperimentConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadExperimentConfig(path string) (*ExperimentConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyExperimentConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ExperimentConfig) Validate() error {
	if c.ZoneType != nil {
		switch *c.ZoneType {
		case "radius", "box":
		default:
			return fmt.Errorf("zone_type must be \"radius\" or \"box\", got %q", *c.ZoneType)
		}
	}

	if c.ZoneRadius != nil && *c.ZoneRadius <= 0 {
		return fmt.Errorf("zone_radius must be positive, got %f", *c.ZoneRadius)
	}

	if c.ShamFraction != nil {
		if *c.ShamFraction < 0 || *c.ShamFraction > 1 {
			return fmt.Errorf("sham_fraction must be between 0 and 1, got %f", *c.ShamFraction)
		}
	}

	for _, field := range []struct {
		name  string
		value *string
	}{
		{"min_trajectory_time", c.MinTrajectoryTime},
		{"min_trigger_interval", c.MinTriggerInterval},
		{"stale_after", c.StaleAfter},
	} {
		if field.value != nil && *field.value != "" {
			if _, err := time.ParseDuration(*field.value); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", field.name, *field.value, err)
			}
		}
	}

	if c.HeadingWindow != nil && *c.HeadingWindow < 1 {
		return fmt.Errorf("heading_window must be at least 1, got %d", *c.HeadingWindow)
	}

	if c.WindowBefore != nil && *c.WindowBefore < 0 {
		return fmt.Errorf("window_before must be non-negative, got %d", *c.WindowBefore)
	}
	if c.WindowAfter != nil && *c.WindowAfter < 1 {
		return fmt.Errorf("window_after must be at least 1, got %d", *c.WindowAfter)
	}

	for i, cam := range c.Cameras {
		if cam.Serial == nil || *cam.Serial == "" {
			return fmt.Errorf("camera %d: serial is required", i)
		}
		if cam.FPS != nil && *cam.FPS <= 0 {
			return fmt.Errorf("camera %d: fps must be positive, got %f", i, *cam.FPS)
		}
		for _, field := range []struct {
			name  string
			value *string
		}{
			{"time_before", cam.TimeBefore},
			{"time_after", cam.TimeAfter},
		} {
			if field.value != nil && *field.value != "" {
				if _, err := time.ParseDuration(*field.value); err != nil {
					return fmt.Errorf("camera %d: invalid %s '%s': %w", i, field.name, *field.value, err)
				}
			}
		}
	}

	if c.GetOptoEnabled() && c.GetOptoPort() == "" {
		return fmt.Errorf("opto_port is required when opto_enabled is true")
	}

	return nil
}

// GetBraidURL returns the braid_url value or the default.
func (c *ExperimentConfig) GetBraidURL() string {
	if c.BraidURL == nil || *c.BraidURL == "" {
		return "http://127.0.0.1:8397/"
	}
	return *c.BraidURL
}

// GetZoneType returns the zone_type value or the default.
func (c *ExperimentConfig) GetZoneType() string {
	if c.ZoneType == nil || *c.ZoneType == "" {
		return "radius"
	}
	return *c.ZoneType
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetMinTrajectoryTime parses and returns the min_trajectory_time as a time.Duration.
func (c *ExperimentConfig) GetMinTrajectoryTime() time.Duration {
	return getDuration(c.MinTrajectoryTime, time.Second)
}

// GetMinTriggerInterval parses and returns the min_trigger_interval as a time.Duration.
func (c *ExperimentConfig) GetMinTriggerInterval() time.Duration {
	return getDuration(c.MinTriggerInterval, time.Second)
}

// GetStaleAfter parses and returns the stale_after value as a time.Duration.
func (c *ExperimentConfig) GetStaleAfter() time.Duration {
	return getDuration(c.StaleAfter, 30*time.Second)
}

// GetShamFraction returns the sham_fraction value or the default.
func (c *ExperimentConfig) GetShamFraction() float64 {
	return getFloat(c.ShamFraction, 0)
}

// GetHeadingWindow returns the heading_window value or the default.
func (c *ExperimentConfig) GetHeadingWindow() int {
	if c.HeadingWindow == nil {
		return 10
	}
	return *c.HeadingWindow
}

// GetOptoEnabled returns the opto_enabled value or the default.
func (c *ExperimentConfig) GetOptoEnabled() bool {
	if c.OptoEnabled == nil {
		return false
	}
	return *c.OptoEnabled
}

// GetOptoPort returns the opto_port value or the default.
func (c *ExperimentConfig) GetOptoPort() string {
	if c.OptoPort == nil {
		return ""
	}
	return *c.OptoPort
}

// GetDisplayEnabled returns the display_enabled value or the default.
func (c *ExperimentConfig) GetDisplayEnabled() bool {
	if c.DisplayEnabled == nil {
		return true
	}
	return *c.DisplayEnabled
}

// GetCamerasEnabled returns the cameras_enabled value or the default.
func (c *ExperimentConfig) GetCamerasEnabled() bool {
	if c.CamerasEnabled == nil {
		return len(c.Cameras) > 0
	}
	return *c.CamerasEnabled
}

// GetCaptureDir returns the capture_dir value or the default.
func (c *ExperimentConfig) GetCaptureDir() string {
	if c.CaptureDir == nil || *c.CaptureDir == "" {
		return "captures"
	}
	return *c.CaptureDir
}

// GetTriggerCSVPath returns the trigger_csv_path value or the default.
func (c *ExperimentConfig) GetTriggerCSVPath() string {
	if c.TriggerCSVPath == nil || *c.TriggerCSVPath == "" {
		return "opto.csv"
	}
	return *c.TriggerCSVPath
}

// GetWindowCSVPath returns the window_csv_path value or the default.
func (c *ExperimentConfig) GetWindowCSVPath() string {
	if c.WindowCSVPath == nil || *c.WindowCSVPath == "" {
		return "window.csv"
	}
	return *c.WindowCSVPath
}

// GetWindowBefore returns the window_before value or the default.
func (c *ExperimentConfig) GetWindowBefore() int {
	if c.WindowBefore == nil {
		return 50
	}
	return *c.WindowBefore
}

// GetWindowAfter returns the window_after value or the default.
func (c *ExperimentConfig) GetWindowAfter() int {
	if c.WindowAfter == nil {
		return 50
	}
	return *c.WindowAfter
}

// GetDBPath returns the db_path value or the default.
func (c *ExperimentConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "trials.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the listen_addr value or the default.
func (c *ExperimentConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// TriggerConfig resolves the trigger evaluation parameters.
func (c *ExperimentConfig) TriggerConfig() trigger.Config {
	cfg := trigger.Config{
		MinTrajectoryTime:  c.GetMinTrajectoryTime(),
		MinTriggerInterval: c.GetMinTriggerInterval(),
		ShamTrialFraction:  c.GetShamFraction(),
		Opto: trigger.OptoParams{
			Duration:  getFloat(c.OptoDuration, 300),
			Intensity: getFloat(c.OptoIntensity, 255),
			Frequency: getFloat(c.OptoFrequency, 0),
		},
	}
	switch c.GetZoneType() {
	case "box":
		cfg.ZoneType = trigger.ZoneBox
		cfg.Box = &trigger.BoxZone{
			XMin: getFloat(c.BoxXMin, -0.1), XMax: getFloat(c.BoxXMax, 0.1),
			YMin: getFloat(c.BoxYMin, -0.1), YMax: getFloat(c.BoxYMax, 0.1),
			ZMin: getFloat(c.BoxZMin, 0.1), ZMax: getFloat(c.BoxZMax, 0.3),
		}
	default:
		cfg.ZoneType = trigger.ZoneRadius
		cfg.Radius = &trigger.RadiusZone{
			CenterX: getFloat(c.ZoneCX, 0),
			CenterY: getFloat(c.ZoneCY, 0),
			Radius:  getFloat(c.ZoneRadius, 0.025),
			ZMin:    getFloat(c.ZoneZMin, 0.1),
			ZMax:    getFloat(c.ZoneZMax, 0.3),
		}
	}
	return cfg
}

// CameraConfigs resolves the per-camera capture parameters.
func (c *ExperimentConfig) CameraConfigs() []camera.Config {
	var out []camera.Config
	for _, cam := range c.Cameras {
		fps := getFloat(cam.FPS, 100)
		out = append(out, camera.Config{
			Serial:     *cam.Serial,
			FPS:        fps,
			TimeBefore: getDuration(cam.TimeBefore, time.Second),
			TimeAfter:  getDuration(cam.TimeAfter, 2*time.Second),
		})
	}
	return out
}
