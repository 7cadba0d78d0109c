package yaml

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Quarantine moves a file that failed to decode into quarantineDir with a
// timestamped ".corrupt" suffix, so a fresh default can take its place
// while the original bytes stay available for inspection.
func Quarantine(quarantineDir, filePath string) (string, error) {
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405.000")
	quarantinePath := filepath.Join(quarantineDir, fmt.Sprintf("%s.%s.corrupt", baseName, timestamp))

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}

	slog.Warn("quarantined corrupted file", "file", filePath, "quarantine", quarantinePath)
	return quarantinePath, nil
}
