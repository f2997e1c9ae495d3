package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jaqedu/jaqflow/internal/logging"
)

const backupUsage = "usage: jaqflow backup [-config path] create | list | verify <id> | restore <id> | fetch <id>"

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fatalf("%s", backupUsage)
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.Log.Level))
	logger := logging.New(os.Stderr, level, cfg.Log.Format)

	ctx := context.Background()
	s, err := openStore(ctx, cfg)
	if err != nil {
		fatalf("%v", err)
	}
	defer s.Close()

	mgr, err := newBackupManager(ctx, s, cfg, logger)
	if err != nil {
		fatalf("%v", err)
	}

	sub, rest := fs.Arg(0), fs.Args()[1:]
	idArg := func() string {
		if len(rest) != 1 {
			fatalf("%s", backupUsage)
		}
		return rest[0]
	}

	var out any
	switch sub {
	case "create":
		out, err = mgr.CreateBackup(ctx)
	case "list":
		out, err = mgr.ListBackups()
	case "verify":
		out, err = mgr.ValidateBackupIntegrity(ctx, idArg())
	case "restore":
		out, err = mgr.RestoreFromBackup(ctx, idArg())
	case "fetch":
		out, err = mgr.FetchReplica(ctx, idArg())
	default:
		fatalf("%s", backupUsage)
	}
	if err != nil {
		fatalf("%v", err)
	}
	printJSON(out)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
