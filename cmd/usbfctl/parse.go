package main

import (
	"fmt"
	"log/slog"

	"github.com/alecthomas/kong"

	"github.com/ardnew/usbfunc/device"
)

// ParseCmd groups the descriptor parsers.
type ParseCmd struct {
	Config ParseConfigCmd `cmd:"" name:"config" help:"Parse a configuration descriptor block."`
	BOS    ParseBOSCmd    `cmd:"" name:"bos" help:"Parse a BOS descriptor set."`
}

// ParseConfigCmd parses a configuration block as a device with the given
// class triple would.
type ParseConfigCmd struct {
	Input string `arg:"" help:"Hex bytes, or @file holding hex text or raw bytes."`

	Class         uint8 `help:"Device class."`
	SubClass      uint8 `help:"Device subclass." name:"subclass"`
	Protocol      uint8 `help:"Device protocol."`
	MultiFunction bool  `help:"Use the multi-function class triple (EF/02/01)." short:"m"`

	IDs `embed:""`
}

func (c *ParseConfigCmd) Run(kctx *kong.Context, logger *slog.Logger) error {
	raw, err := readInput(c.Input)
	if err != nil {
		return err
	}
	dev := device.DeviceDescriptor{
		DeviceClass:    c.Class,
		DeviceSubClass: c.SubClass,
		DeviceProtocol: c.Protocol,
	}
	if c.MultiFunction {
		dev.DeviceClass = device.ClassMisc
		dev.DeviceSubClass = device.MultiFunctionSubClass
		dev.DeviceProtocol = device.MultiFunctionProtocol
	}
	logger.Debug("parsing configuration", "bytes", len(raw))

	var cfg device.Configuration
	if err := device.ParseConfigDescriptors(&dev, raw, &cfg); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	c.printer(kctx.Stdout).configuration(0, &cfg)
	return nil
}

// ParseBOSCmd parses a BOS descriptor set.
type ParseBOSCmd struct {
	Input string `arg:"" help:"Hex bytes, or @file holding hex text or raw bytes."`
}

func (c *ParseBOSCmd) Run(kctx *kong.Context, logger *slog.Logger) error {
	raw, err := readInput(c.Input)
	if err != nil {
		return err
	}
	logger.Debug("parsing BOS", "bytes", len(raw))

	var bos device.BOS
	if err := device.ParseBOSDescriptors(raw, &bos); err != nil {
		return fmt.Errorf("bos: %w", err)
	}
	(&printer{w: kctx.Stdout}).bos(&bos)
	return nil
}
