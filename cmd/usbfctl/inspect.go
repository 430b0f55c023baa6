package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"github.com/ardnew/usbfunc/device"
	"github.com/ardnew/usbfunc/internal/profile"
)

// InspectCmd prints the descriptors of a device profile.
type InspectCmd struct {
	Profile string `help:"Device profile (YAML or TOML)." type:"existingfile" required:"" short:"p"`

	IDs `embed:""`
}

func (c *InspectCmd) Run(kctx *kong.Context, logger *slog.Logger) error {
	prof, err := profile.Load(c.Profile)
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

	dev := target.Dev
	p := c.printer(kctx.Stdout)
	p.device(&dev.Descriptor)
	if dev.Qualifier.Length != 0 {
		p.qualifier(&dev.Qualifier)
	}
	labels := []struct {
		label string
		index uint8
	}{
		{"manufacturer", dev.Descriptor.ManufacturerIndex},
		{"product", dev.Descriptor.ProductIndex},
		{"serial", dev.Descriptor.SerialNumberIndex},
	}
	for _, s := range labels {
		if s.index == 0 {
			continue
		}
		p.printf(1, "%s %q", s.label, decodeString(dev.String(s.index, device.LangIDUSEnglish)))
	}

	for _, speed := range []device.Speed{device.SpeedFull, device.SpeedHigh} {
		for i := 0; i < device.MaxConfigurations; i++ {
			raw := dev.ConfigDescriptor(i, speed)
			if raw == nil {
				continue
			}
			var cfg device.Configuration
			if err := device.ParseConfigDescriptors(&dev.Descriptor, raw, &cfg); err != nil {
				return err
			}
			p.printf(0, "%s:", speed)
			p.configuration(1, &cfg)
		}
	}
	if bos, ok := dev.BOS(); ok {
		p.bos(bos)
	}
	logger.Debug("profile inspected", "profile", c.Profile, "drivers", len(inst.Drivers))
	return nil
}
