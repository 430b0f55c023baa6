package main

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/alecthomas/kong"
)

var (
	Version = ""
	Commit  = ""
	Date    = ""
)

var descriptionTemplate = `
USB function stack tool
  Version: %s (%s)
           %s
`

// Description returns the help text header.
func Description() string {
	return fmt.Sprintf(descriptionTemplate, Version, Commit, Date)
}

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "" {
		Version = info.Main.Version
		if Version == "" || Version == "(devel)" {
			Version = "dev"
		}
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if Commit == "" {
				Commit = setting.Value[:min(len(setting.Value), 7)]
			}
		case "vcs.time":
			if Date == "" {
				if t, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					Date = t.Format("2006-01-02")
				} else {
					Date = setting.Value
				}
			}
		}
	}
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (VersionCmd) Run(kctx *kong.Context) error {
	_, err := fmt.Fprintf(kctx.Stdout, "usbfctl %s %s %s\n", Version, Commit, Date)
	return err
}
