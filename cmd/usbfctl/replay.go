package main

import (
	"fmt"
	"log/slog"

	"github.com/alecthomas/kong"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/internal/profile"
)

// ReplayCmd runs a session script against a device built from a profile.
type ReplayCmd struct {
	Profile string `help:"Device profile (YAML or TOML)." type:"existingfile" required:"" short:"p"`
	Session string `help:"Session script (YAML or TOML)." type:"existingfile" required:"" short:"s"`
}

func (c *ReplayCmd) Run(kctx *kong.Context, logger *slog.Logger) error {
	prof, err := profile.Load(c.Profile)
	if err != nil {
		return err
	}
	session, err := profile.LoadSession(c.Session)
	if err != nil {
		return err
	}
	inst, err := prof.Build()
	if err != nil {
		return err
	}
	defer inst.Close()

	target, err := inst.Attach()
	if err != nil {
		return err
	}
	defer target.Close()
	logger.Info("device attached", "profile", prof.Name, "speed", target.Dev.Speed().String(),
		"drivers", len(inst.Drivers), "steps", len(session.Steps))

	p := &printer{w: kctx.Stdout}
	return target.Run(session, func(r profile.Result) {
		p.result(r)
		if r.Mismatch != "" {
			logger.Warn("step failed", "step", r.Index, "name", r.Step.Name, "reason", r.Mismatch)
		}
	})
}

func (p *printer) result(r profile.Result) {
	var what string
	switch {
	case r.Step.Event != "":
		what = "event " + r.Step.Event
	case r.Step.Speed != "":
		what = "speed " + r.Step.Speed
	default:
		var raw [device.SetupPacketSize]byte
		r.Setup.MarshalTo(raw[:])
		what = fmt.Sprintf("setup % x", raw)
		switch {
		case r.Setup.IsStandard():
			what += " " + device.RequestName(r.Setup.Request)
		case r.Setup.IsClass():
			what += " class"
		case r.Setup.IsVendor():
			what += " vendor"
		}
	}
	if r.Step.Name != "" {
		what += " (" + r.Step.Name + ")"
	}

	outcome := "ok"
	switch {
	case r.Stalled():
		outcome = "stall: " + r.Err.Error()
	case r.Err != nil:
		outcome = "error: " + r.Err.Error()
	}
	p.printf(0, "%3d %s -> %s [%s]", r.Index, what, outcome, r.State)
	if len(r.Reply) > 0 {
		p.printf(2, "reply % x", r.Reply)
	}
	if r.Mismatch != "" {
		p.printf(2, "FAIL %s", r.Mismatch)
	}
}
