package main

import (
	"github.com/prtl/prtl/internal/adapters/in/cli"
)

var (
	version string
	commit  string
	date    string
)

func main() {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if date == "" {
		date = "unknown"
	}
	cli.Execute(version, commit, date)
}
