package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/msageha/alarmd/internal/model"
	atomicyaml "github.com/msageha/alarmd/internal/yaml"
)

// DropDir ingests *.yaml message files (from, body) placed in a directory.
// Ingested files are removed; unreadable ones are quarantined. Writers
// should create files under a dot-prefixed name and rename them in.
type DropDir struct {
	dir           string
	quarantineDir string
	inbox         *Store
	logger        *slog.Logger
}

func NewDropDir(dir, quarantineDir string, inbox *Store, logger *slog.Logger) *DropDir {
	if logger == nil {
		logger = slog.Default()
	}
	return &DropDir{
		dir:           dir,
		quarantineDir: quarantineDir,
		inbox:         inbox,
		logger:        logger.With("component", "dropdir"),
	}
}

// Run ingests files already present and then watches the directory until
// ctx is done.
func (d *DropDir) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("ensure drop dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(d.dir); err != nil {
		return fmt.Errorf("watch %s: %w", d.dir, err)
	}

	d.Scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				d.logger.Debug("fsnotify event", "op", event.Op.String(), "file", event.Name)
				d.handle(ctx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Error("fsnotify error", "error", err)
		}
	}
}

// Scan ingests every message file currently in the directory.
func (d *DropDir) Scan(ctx context.Context) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.logger.Warn("scan drop dir failed", "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			d.handle(ctx, filepath.Join(d.dir, e.Name()))
		}
	}
}

func (d *DropDir) handle(ctx context.Context, path string) {
	if !isMessageFile(path) {
		return
	}
	msg, err := d.Ingest(ctx, path)
	switch {
	case err == nil:
		d.logger.Info("message ingested", "file", filepath.Base(path), "id", msg.ID, "from", msg.From)
	case errors.Is(err, os.ErrNotExist):
		// Already ingested on an earlier event for the same file.
	default:
		d.logger.Warn("ingest failed", "file", filepath.Base(path), "error", err)
	}
}

func isMessageFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".yaml") && !strings.HasPrefix(name, ".")
}

// Ingest reads one message file into the inbox and removes it.
func (d *DropDir) Ingest(ctx context.Context, path string) (model.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Message{}, err
	}
	if len(data) == 0 {
		// Created but not yet written; the write event brings it back.
		return model.Message{}, os.ErrNotExist
	}

	var p model.MessageParams
	if err := yaml.Unmarshal(data, &p); err != nil || p.Body == "" {
		if err == nil {
			err = errors.New("missing body")
		}
		if _, qerr := atomicyaml.Quarantine(d.quarantineDir, path); qerr != nil {
			d.logger.Warn("quarantine failed", "file", path, "error", qerr)
		}
		return model.Message{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	msg, err := d.inbox.Insert(ctx, p.From, p.Body)
	if err != nil {
		return model.Message{}, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("remove ingested file failed", "file", path, "error", err)
	}
	return msg, nil
}
