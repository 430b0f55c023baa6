// Command usbfctl parses USB descriptors and replays control sessions
// against simulated functions built from device profiles.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/ardnew/usbfunc/internal/log"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	jsonPaths, yamlPaths, tomlPaths := configPaths(findUserConfig(args))

	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("usbfctl"),
		kong.Description(Description()),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		// Flags and environment override values loaded from these files.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)
	if err != nil {
		fmt.Fprintln(stderr, "usbfctl:", err)
		return 2
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}

	logger, closers, err := log.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		fmt.Fprintln(stderr, "usbfctl: failed to setup logger:", err)
		return 2
	}
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	stop, err := cli.PProf.Start()
	if err != nil {
		fmt.Fprintln(stderr, "usbfctl:", err)
		return 2
	}
	ctx.Bind(logger)
	err = ctx.Run()
	if perr := stop(); perr != nil {
		logger.Warn("profile not written", "error", perr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "usbfctl: %s: %v\n", ctx.Command(), err)
		return 1
	}
	return 0
}

func findUserConfig(args []string) string {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("USBF_CONFIG")
}

// configPaths lists the configuration files tried per format: the working
// directory, then the user configuration directory. A file named on the
// command line goes first in the list of its format.
func configPaths(user string) (jsonPaths, yamlPaths, tomlPaths []string) {
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, "usbfctl"))
	}
	for _, dir := range dirs {
		jsonPaths = append(jsonPaths, filepath.Join(dir, "usbfctl.json"))
		yamlPaths = append(yamlPaths, filepath.Join(dir, "usbfctl.yaml"), filepath.Join(dir, "usbfctl.yml"))
		tomlPaths = append(tomlPaths, filepath.Join(dir, "usbfctl.toml"))
	}
	switch strings.ToLower(filepath.Ext(user)) {
	case "":
	case ".json":
		jsonPaths = append([]string{user}, jsonPaths...)
	case ".toml":
		tomlPaths = append([]string{user}, tomlPaths...)
	default:
		yamlPaths = append([]string{user}, yamlPaths...)
	}
	return jsonPaths, yamlPaths, tomlPaths
}
