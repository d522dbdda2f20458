// Package scaffold writes a starter bingo.yml.
package scaffold

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dyluth/bingo/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ErrAlreadyInitialized is returned when the config file exists and force is off.
var ErrAlreadyInitialized = errors.New("configuration already exists")

// Template returns the starter configuration.
func Template() ([]byte, error) {
	content, err := templatesFS.ReadFile("templates/bingo.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read bingo.yml template: %w", err)
	}
	return content, nil
}

// CheckExisting returns ErrAlreadyInitialized if path already exists.
func CheckExisting(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", path, err)
	}
	return nil
}

// Initialize writes the starter configuration to path, creating parent
// directories. An existing file is only replaced when force is set. The
// written file is loaded back to make sure it validates.
func Initialize(path string, force bool) error {
	if !force {
		if err := CheckExisting(path); err != nil {
			return err
		}
	}

	content, err := Template()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("created %s does not validate: %w", path, err)
	}
	return nil
}
