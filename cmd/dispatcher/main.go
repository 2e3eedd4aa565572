package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		// Only the first word: later ones belong to the supervised command.
		if len(args) > 0 && isHelpToken(args[0]) {
			printRunHelp(os.Stdout)
			os.Exit(0)
		}
		os.Exit(runJob(args))
	case "status":
		os.Exit(runStatus(args))
	case "abort":
		os.Exit(runAbort(args))
	case "watch":
		os.Exit(runWatch(args))
	case "history":
		os.Exit(runHistory(args))
	case "serve":
		os.Exit(runServe(args))
	case "monitor":
		os.Exit(runMonitor(args))
	case "doctor":
		os.Exit(runDoctor(args))
	case "version":
		fmt.Printf("dispatcher version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		os.Exit(0)

	default:
		// The historical positional form: dispatcher [searchpath] <settings> <projectdir|NONE> <cmd> ...
		os.Exit(runJob(os.Args[1:]))
	}
}

func printUsage(w *os.File) {
	fmt.Fprint(w, `dispatcher - run one command under supervision

Usage:
  dispatcher [searchpath] <settings> <projectdir|NONE> <cmd> [arg ...]
  dispatcher <command> [flags]

Commands:
  run       Same as the positional form; use it when <settings> collides with a command name
  status    Show the status files of a project directory
  abort     Request a graceful abort of a running job
  watch     Live view of one project directory
  history   List recorded runs from the history ledger
  serve     Serve the observer HTTP API for a set of project directories
  monitor   Live view of every job a 'serve' instance observes
  doctor    Check a settings file and project directories
  version   Show version information
  help      Show this help message

Exit codes:
  0 success, 1 failure (job failed, aborted, lost or misconfigured),
  2 memory ceiling exceeded, 3 wall-clock limit exceeded

Use 'dispatcher <command> --help' for command-specific flags.
`)
}

func printRunHelp(w *os.File) {
	fmt.Fprint(w, `Usage: dispatcher run [searchpath] <settings> <projectdir|NONE> <cmd> [arg ...]

  searchpath   Optional colon-separated directories searched for <settings>;
               recognised by containing '/' and not naming a settings file.
  settings     Settings file name or path (.yaml/.yml may be omitted).
  projectdir   Directory receiving .pid/.done/.abort/.aborted, or NONE.
  cmd          Shell command; each following arg is quoted and appended.

Settings keys (environment variables of the same name override the file):
  DISPATCHER_POLLINTERVAL  memory sampling interval, seconds (default 30)
  DISPATCHER_MAXRESMEM     resident memory ceiling, KB (0 = unlimited)
  DISPATCHER_MAXTIME       wall-clock limit, seconds (0 = unlimited)
  DISPATCHER_ABORTCHECK    longest gap between abort checks, seconds (default 10)
  DISPATCHER_KILLGRACE     SIGTERM to SIGKILL grace, seconds (default 30)
  log_level, log_format, history_db

DISPATCHER_SETTINGS_DIGEST, when set, must match the settings file's blake3 digest
(see 'dispatcher doctor --digest <settings>').
`)
}

func isHelpToken(token string) bool {
	return token == "--help" || token == "-h"
}
