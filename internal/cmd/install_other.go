//go:build !linux

package cmd

import (
	"errors"
	"log/slog"
)

var errInstallUnsupported = errors.New("service install is only supported on Linux")

func install(*slog.Logger, string, unitOptions, bool) error { return errInstallUnsupported }

func uninstall(*slog.Logger, string) error { return errInstallUnsupported }
