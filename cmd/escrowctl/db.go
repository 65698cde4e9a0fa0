package main

import (
	"context"
	"fmt"

	"stakeshack/storage/marketplace"
)

func runDBCommand(env *cliEnv, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(env.stderr, usage())
		return 1
	}
	switch args[0] {
	case "migrate":
		return runDBMigrate(env, args[1:])
	case "seed":
		return runDBSeed(env, args[1:])
	default:
		fmt.Fprintf(env.stderr, "Unknown db subcommand: %s\n", args[0])
		fmt.Fprintln(env.stderr, usage())
		return 1
	}
}

func runDBMigrate(env *cliEnv, args []string) int {
	fs := newFlagSet("db migrate", env.stderr)
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	store, err := env.openStore()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	if err := store.AutoMigrate(); err != nil {
		return printError(env.stderr, err.Error())
	}
	fmt.Fprintln(env.stdout, "marketplace schema up to date")
	return 0
}

func runDBSeed(env *cliEnv, args []string) int {
	fs := newFlagSet("db seed", env.stderr)
	var path string
	fs.StringVar(&path, "fixtures", "", "YAML fixture file (defaults to database.fixtures)")
	if !parseFlags(fs, args, env.stderr) {
		return 1
	}
	cfg, err := env.loadConfig()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	if path == "" {
		path = cfg.Database.Fixtures
	}
	if path == "" {
		return printError(env.stderr, "--fixtures is required")
	}
	fx, err := marketplace.LoadFixtures(path)
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	store, err := env.openStore()
	if err != nil {
		return printError(env.stderr, err.Error())
	}
	if err := store.AutoMigrate(); err != nil {
		return printError(env.stderr, err.Error())
	}
	if err := store.Seed(context.Background(), fx); err != nil {
		return printError(env.stderr, err.Error())
	}
	fmt.Fprintf(env.stdout, "seeded %d profiles, %d apartments, %d interests\n",
		len(fx.Profiles), len(fx.Apartments), len(fx.Interests))
	return 0
}
