// Package config holds the root command line of the librepad binary.
package config

import "github.com/librepad/librepad/internal/cmd"

type CLI struct {
	// Config is consumed before parsing; see configpaths.UserConfigPath.
	Config string `help:"Configuration file (json, yaml or toml)" type:"path" env:"LIBREPAD_CONFIG"`
	Log    Log    `embed:"" prefix:"log."`

	Server    cmd.Server         `cmd:"" help:"Run the LibrePad server"`
	Client    cmd.Client         `cmd:"" help:"Interactive UDP protocol client"`
	Configure cmd.ConfigCommand  `cmd:"" name:"config" help:"Configuration helpers"`
	Capture   cmd.CaptureCommand `cmd:"" help:"Protocol capture tools"`
	Install   cmd.Install        `cmd:"" help:"Install the server as a systemd service"`
	Uninstall cmd.Uninstall      `cmd:"" help:"Remove the systemd service"`
}

type Log struct {
	Level       string `help:"Log level" enum:"trace,debug,info,warn,warning,error" default:"info" env:"LIBREPAD_LOG_LEVEL"`
	Format      string `help:"Log format" enum:"text,json" default:"text" env:"LIBREPAD_LOG_FORMAT"`
	File        string `help:"Also write logs to this file" env:"LIBREPAD_LOG_FILE"`
	RawFile     string `help:"Write a hex dump of every datagram to this file" env:"LIBREPAD_LOG_RAW_FILE"`
	CaptureFile string `help:"Record every frame to this CBOR capture file" env:"LIBREPAD_LOG_CAPTURE_FILE"`
}
