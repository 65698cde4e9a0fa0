package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("escrowctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprintln(stderr, usage()) }
	configPath := global.String("config", defaultConfigPath(), "path to configuration file")
	if err := global.Parse(args); err != nil {
		return 1
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	env := &cliEnv{configPath: *configPath, stdout: stdout, stderr: stderr}
	defer env.close()

	switch rest[0] {
	case "keygen":
		return runKeygen(env, rest[1:])
	case "derive":
		return runDerive(env, rest[1:])
	case "escrow":
		return runEscrowCommand(env, rest[1:])
	case "stakes":
		return runStakesCommand(env, rest[1:])
	case "view":
		return runView(env, rest[1:])
	case "balance":
		return runBalance(env, rest[1:])
	case "initialize", "stake", "resolve", "slash":
		return runAction(env, rest[0], rest[1:])
	case "db":
		return runDBCommand(env, rest[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("STAKESHACK_CONFIG")); path != "" {
		return path
	}
	return "stakeshack.toml"
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of %s:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags parses args and rejects positional leftovers. It returns false
// after reporting the problem.
func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func writeJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return printError(w, err.Error())
	}
	return 0
}

func usage() string {
	return strings.TrimSpace(`
Usage: escrowctl [-config path] <command> [flags]

Keys:
  keygen --out <path> [--plain]
  derive --apartment <id> [--profile <id>]

Ledger reads:
  escrow get --apartment <id>
  stakes list --apartment <id>
  stakes get --apartment <id> --profile <id>[,<id>...]
  stakes export --apartment <id>[,<id>...] [--csv <path>] [--parquet <path>]
  view --apartment <id> --profile <id>
  balance [--wallet <pubkey> | --keystore <path>]

Transitions (signed with the configured keystore):
  initialize --apartment <id> --profile <owner-id> [--direct]
  stake --apartment <id> --profile <tenant-id> [--amount <lamports>] [--direct]
  resolve --apartment <id> --profile <owner-id> --tenant <id> [--direct --reward <n> --referrer <pubkey>]
  slash --apartment <id> --profile <owner-id> --tenant <id> [--direct]

Marketplace database:
  db migrate
  db seed [--fixtures <path>]

Common flags for signing commands:
  --keystore <path>   overrides wallet.keystore_path
`)
}
