package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// envPrefix namespaces the variables that back command line flags.
const envPrefix = "GATEWAY_"

// envOverrides keeps the variable names that predate the derived ones.
var envOverrides = map[string]string{
	"config": envPrefix + "CONFIG_PATH",
	"watch":  envPrefix + "WATCH_CONFIG",
}

// envName maps a flag to its variable: log-level becomes GATEWAY_LOG_LEVEL.
func envName(flagName string) string {
	if name, ok := envOverrides[flagName]; ok {
		return name
	}
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnv fills every flag of fs that was not given on the command line
// from its variable. Values go through the flag's own parser, so a bad
// GATEWAY_WATCH_CONFIG fails the same way a bad -watch does.
func applyEnv(fs *flag.FlagSet, lookup func(string) (string, bool)) error {
	explicit := make(map[string]struct{})
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = struct{}{}
	})

	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if _, ok := explicit[f.Name]; ok {
			return
		}
		name := envName(f.Name)
		value, ok := lookup(name)
		if !ok || value == "" {
			return
		}
		if err := fs.Set(f.Name, value); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", name, value, err))
		}
	})
	return errors.Join(errs...)
}
