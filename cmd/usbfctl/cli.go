package main

// Log configures console and file logging.
type Log struct {
	Level string `help:"Log level: trace, debug, info, warn, error." default:"warn" env:"USBF_LOG_LEVEL"`
	File  string `help:"Log file path (default: console only)." type:"path" env:"USBF_LOG_FILE"`
}

// CLI is the root command structure for kong.
type CLI struct {
	Config string `help:"Configuration file (JSON, YAML or TOML)." type:"path" env:"USBF_CONFIG"`

	Log   `embed:"" prefix:"log."`
	PProf PProf `embed:"" prefix:"pprof."`

	Parse   ParseCmd   `cmd:"" help:"Parse raw descriptors."`
	Replay  ReplayCmd  `cmd:"" help:"Replay a control session against a simulated device."`
	Inspect InspectCmd `cmd:"" help:"Print the descriptors a device profile presents."`
	Version VersionCmd `cmd:"" help:"Print version information."`
}
