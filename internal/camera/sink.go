package camera

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flylab-data/braidtrigger/internal/security"
)

// DirectorySink writes each capture window to a directory as a raw frame
// blob plus a JSON sidecar with the trigger metadata. Encoding to a video
// container is left to offline tooling; keeping the writer dumb keeps the
// per-trigger latency flat.
type DirectorySink struct {
	Dir string
}

// captureMeta is the sidecar layout.
type captureMeta struct {
	TriggerContext
	FrameCount int   `json:"frame_count"`
	Partial    bool  `json:"partial"`
	FirstFrame int64 `json:"first_frame"`
	LastFrame  int64 `json:"last_frame"`
}

// WriteCapture persists one window as <base>.raw and <base>.json, where
// base is "{ntrig}_obj_id_{obj}_cam_{serial}_frame_{frame}".
func (s *DirectorySink) WriteCapture(c Capture) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create capture dir %s: %w", s.Dir, err)
	}
	// The serial comes from operator config; sanitize it so a stray
	// path separator cannot write outside the capture directory.
	serial := security.SanitizeFilename(c.CamSerial)
	base := fmt.Sprintf("%d_obj_id_%d_cam_%s_frame_%d", c.Ntrig, c.ObjID, serial, c.Frame)
	if err := security.ValidatePathWithinDirectory(filepath.Join(s.Dir, base+".raw"), s.Dir); err != nil {
		return err
	}

	raw, err := os.Create(filepath.Join(s.Dir, base+".raw"))
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	for _, f := range c.Frames {
		if _, err := raw.Write(f.Data); err != nil {
			raw.Close()
			return fmt.Errorf("failed to write capture frames: %w", err)
		}
	}
	if err := raw.Close(); err != nil {
		return err
	}

	meta := captureMeta{
		TriggerContext: c.TriggerContext,
		FrameCount:     len(c.Frames),
		Partial:        c.Partial,
	}
	if len(c.Frames) > 0 {
		meta.FirstFrame = c.Frames[0].Index
		meta.LastFrame = c.Frames[len(c.Frames)-1].Index
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, base+".json"), data, 0o644)
}
