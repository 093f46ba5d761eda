package main

import (
	"flag"
	"fmt"

	"github.com/timewarden/pluginhost/manifest"
	"github.com/timewarden/pluginhost/sdk"
)

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	coreVersion := fs.String("core-version", "", "Also check compatibility against this host version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: plugctl validate [options] <manifest file>")
	}

	m, err := manifest.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	fmt.Printf("%s %s: manifest is valid\n", m.ID, m.Version)

	if *coreVersion != "" {
		if err := m.CompatibleWith(*coreVersion, sdk.APIVersion); err != nil {
			return err
		}
		fmt.Printf("%s %s: compatible with core %s\n", m.ID, m.Version, *coreVersion)
	}
	return nil
}
