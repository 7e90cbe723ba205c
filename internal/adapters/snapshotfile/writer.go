package snapshotfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"paperTrader/internal/ports"
)

// Writer stores emergency snapshots as JSON files in one directory.
type Writer struct {
	dir    string
	logger ports.Logger
}

// New creates the directory if needed.
func New(dir string, logger ports.Logger) (*Writer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for snapshot writer")
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir %s: %w: %w", dir, ports.ErrConfigurationError, err)
	}
	return &Writer{dir: dir, logger: logger}, nil
}

// WriteEmergencySnapshot implements ports.SnapshotWriter. The file is named
// emergency_snapshot_<unix>.json and written through a temp file so a reader
// never sees a partial snapshot.
func (w *Writer) WriteEmergencySnapshot(ctx context.Context, snap ports.EmergencySnapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode emergency snapshot: %w", err)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("emergency_snapshot_%d.json", snap.Timestamp.Unix()))
	tmp, err := os.CreateTemp(w.dir, ".emergency_snapshot_*.tmp")
	if err != nil {
		return "", fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish snapshot %s: %w", path, err)
	}

	w.logger.Info(ctx, "Emergency snapshot saved", map[string]interface{}{"path": path, "alerts": len(snap.Alerts)})
	return path, nil
}
