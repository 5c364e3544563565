package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/librepad/librepad/internal/config"
	"github.com/librepad/librepad/internal/configpaths"
	"github.com/librepad/librepad/internal/log"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(configpaths.UserConfigPath(args))

	var cli config.CLI
	parser, err := kong.New(&cli,
		kong.Name("librepad"),
		kong.Description("Virtual game controllers driven over the network"),
		kong.UsageOnError(),
		// Earlier loaders win; flags and env override all of them.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	ctx, err := parser.Parse(args)
	parser.FatalIfErrorf(err)

	logger, closers, err := log.SetupLogger(log.Options{
		Level:  cli.Log.Level,
		File:   cli.Log.File,
		Format: cli.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logger: %v\n", err)
		return 2
	}
	raw, capture, sinkClosers := openSinks(cli.Log, logger)
	closers = append(closers, sinkClosers...)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	ctx.Bind(logger)
	ctx.BindTo(raw, (*log.RawLogger)(nil))
	ctx.BindTo(capture, (*log.Capture)(nil))

	if err := ctx.Run(); err != nil {
		logger.Error("Command failed", "command", ctx.Command(), "error", err)
		return 1
	}
	return 0
}

// openSinks sets up the packet-level outputs. A sink that fails to open is
// logged and replaced by its no-op form so the server still starts.
func openSinks(o config.Log, logger *slog.Logger) (log.RawLogger, log.Capture, []io.Closer) {
	var closers []io.Closer

	raw := log.NewRaw(nil)
	switch {
	case o.RawFile != "":
		f, err := os.OpenFile(o.RawFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("Raw packet log disabled", "file", o.RawFile, "error", err)
			break
		}
		raw = log.NewRaw(f)
		closers = append(closers, f)
	case log.ParseLevel(o.Level) <= log.LevelTrace:
		raw = log.NewRaw(os.Stdout)
	}

	var capture log.Capture = log.NopCapture{}
	if o.CaptureFile != "" {
		c, err := log.OpenCaptureFile(o.CaptureFile)
		if err != nil {
			logger.Warn("Protocol capture disabled", "file", o.CaptureFile, "error", err)
		} else {
			capture = c
			closers = append(closers, c)
		}
	}
	return raw, capture, closers
}
