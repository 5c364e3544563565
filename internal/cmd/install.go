package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Install registers librepad as a system service.
type Install struct {
	UnitPath string `help:"Where to write the systemd unit" default:"/etc/systemd/system/librepad.service"`
	Config   string `help:"Config file the service starts with (passed as --config)" type:"path"`
	User     string `help:"Run the service as this user instead of root"`
	NoStart  bool   `help:"Enable the unit without (re)starting it"`
	Print    bool   `help:"Print the unit to stdout and exit"`
}

type Uninstall struct {
	UnitPath string `help:"Path of the installed systemd unit" default:"/etc/systemd/system/librepad.service"`
}

// unitOptions carries everything the unit template needs.
type unitOptions struct {
	Exe    string
	Config string
	User   string
}

func (i *Install) Run(logger *slog.Logger) error {
	exe, err := currentExecutable()
	if err != nil {
		return err
	}
	opts := unitOptions{Exe: exe, Config: i.Config, User: i.User}
	if i.Print {
		return writeUnit(os.Stdout, opts)
	}
	return install(logger, i.UnitPath, opts, !i.NoStart)
}

func (u *Uninstall) Run(logger *slog.Logger) error {
	return uninstall(logger, u.UnitPath)
}

func currentExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Abs(exe)
}

func unitName(path string) string { return filepath.Base(path) }

// writeUnit renders a systemd unit that starts "librepad server". The
// service needs write access to /dev/uinput, either as root or through the
// input group.
func writeUnit(w io.Writer, o unitOptions) error {
	exec := []string{fmt.Sprintf("%q", o.Exe)}
	if o.Config != "" {
		exec = append(exec, "--config", fmt.Sprintf("%q", o.Config))
	}
	exec = append(exec, "server")

	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=LibrePad virtual controller server\n")
	b.WriteString("After=network-online.target systemd-udev-settle.service\n")
	b.WriteString("Wants=network-online.target\n\n")
	b.WriteString("[Service]\n")
	b.WriteString("Type=simple\n")
	fmt.Fprintf(&b, "ExecStart=%s\n", strings.Join(exec, " "))
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", filepath.Dir(o.Exe))
	if o.User != "" {
		fmt.Fprintf(&b, "User=%s\n", o.User)
		b.WriteString("SupplementaryGroups=input\n")
	}
	b.WriteString("DeviceAllow=/dev/uinput rw\n")
	b.WriteString("Restart=on-failure\n")
	b.WriteString("RestartSec=2\n\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")

	_, err := io.WriteString(w, b.String())
	return err
}
