package main

import (
	"errors"
	"os"
	"runtime/pprof"
)

// PProf writes runtime profiles of a command run.
type PProf struct {
	CPU  string `help:"Write a CPU profile of the command to this file." type:"path" name:"cpu"`
	Heap string `help:"Write a heap profile to this file after the command." type:"path" name:"heap"`
}

// Start begins CPU profiling if requested. The returned function stops it
// and writes the heap profile.
func (p *PProf) Start() (func() error, error) {
	var cpu *os.File
	if p.CPU != "" {
		f, err := os.Create(p.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		cpu = f
	}
	return func() error {
		var errs []error
		if cpu != nil {
			pprof.StopCPUProfile()
			errs = append(errs, cpu.Close())
		}
		if p.Heap != "" {
			errs = append(errs, writeHeap(p.Heap))
		}
		return errors.Join(errs...)
	}, nil
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pprof.Lookup("heap").WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
