package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattjoyce/dispatcher/internal/config"
	"github.com/mattjoyce/dispatcher/internal/doctor"
)

func runDoctor(args []string) int {
	return doctorCommand(args, os.Stdout, os.Stderr)
}

func doctorCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("doctor", stderr, "doctor [--strict] [--format human|json] [--digest] <settings> [projectdir ...]")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	format := fs.String("format", "human", "Output format (human, json)")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	digestOnly := fs.Bool("digest", false, "Print only the settings digest, for "+settingsDigestEnv)
	if code, done := parseFlags(fs, args); done {
		return code
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return 1
	}
	if *jsonOut {
		*format = "json"
	}

	path, err := config.Find(fs.Arg(0), nil)
	if err != nil {
		fmt.Fprintf(stderr, "Load error: %v\n", err)
		return 1
	}
	settings, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "Load error: %v\n", err)
		return 1
	}
	if *digestOnly {
		fmt.Fprintln(stdout, settings.Digest)
		return 0
	}

	result := doctor.New(settings, fs.Args()[1:]).Validate()

	switch *format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	default:
		fmt.Fprintf(stdout, "Settings: %s (%s)\n", settings.Path, settings.Digest)
		fmt.Fprint(stdout, doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}
