// Package setup initializes an alarmd data directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/alarmd/internal/model"
	atomicyaml "github.com/msageha/alarmd/internal/yaml"
	"github.com/msageha/alarmd/templates"
)

// DataDirName is the directory created inside the target directory.
const DataDirName = ".alarmd"

// Run creates <dir>/.alarmd with the default config and an example rule
// subscription, and returns its absolute path.
func Run(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve dir: %w", err)
	}

	base := filepath.Join(absDir, DataDirName)
	if _, err := os.Stat(base); err == nil {
		return "", fmt.Errorf("%s already exists", base)
	}

	cfg, err := templateConfig()
	if err != nil {
		return "", err
	}

	dirs := []string{
		"logs",
		"quarantine",
		cfg.Store.Dir,
		cfg.Inbox.DropDir,
		cfg.Rules.Dir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return "", fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := copyTemplateFile("config.yaml", filepath.Join(base, "config.yaml")); err != nil {
		return "", err
	}
	if err := copyTemplateFile("rules/example.yaml", filepath.Join(base, cfg.Rules.Dir, "example.yaml")); err != nil {
		return "", err
	}
	return base, nil
}

// templateConfig parses the embedded config so a broken template fails
// setup instead of the first daemon start.
func templateConfig() (model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return model.Config{}, fmt.Errorf("read config template: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config template: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := atomicyaml.AtomicWriteRaw(dst, data); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}
