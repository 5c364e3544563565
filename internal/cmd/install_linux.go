//go:build linux

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

func install(logger *slog.Logger, path string, opts unitOptions, start bool) error {
	var unit bytes.Buffer
	if err := writeUnit(&unit, opts); err != nil {
		return err
	}
	if err := os.WriteFile(path, unit.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write unit: %w", err)
	}

	name := unitName(path)
	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	if err := systemctl("enable", name); err != nil {
		return err
	}
	if start {
		if err := systemctl("restart", name); err != nil {
			return err
		}
	}
	logger.Info("Installed systemd unit", "path", path, "exe", opts.Exe, "started", start)
	return nil
}

// uninstall keeps going after a failed step so a half-installed unit can
// still be cleaned up.
func uninstall(logger *slog.Logger, path string) error {
	name := unitName(path)
	var errs []error
	for _, args := range [][]string{{"stop", name}, {"disable", name}} {
		if err := systemctl(args...); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := systemctl("daemon-reload"); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("Removed systemd unit", "path", path)
	return nil
}

func systemctl(args ...string) error {
	out, err := exec.Command("systemctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
