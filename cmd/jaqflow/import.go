package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jaqedu/jaqflow/internal/logging"
	"github.com/jaqedu/jaqflow/internal/store"
	"github.com/jaqedu/jaqflow/pkg/schema"
)

// workflowValidator is the part of the definition validator import uses.
type workflowValidator interface {
	ValidateWorkflow(wf *schema.Workflow) error
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cfgPath := configFlag(fs)
	activate := fs.Bool("activate", false, "mark imported workflows active")
	dryRun := fs.Bool("dry-run", false, "validate only, do not store")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fatalf("usage: jaqflow import [-activate] [-dry-run] <file.yaml>...")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.Log.Level))
	logger := logging.New(os.Stderr, level, cfg.Log.Format)

	_, validator, err := stepRuntime(cfg, logger, nil)
	if err != nil {
		fatalf("%v", err)
	}

	ctx := context.Background()
	var repo store.WorkflowRepository
	if !*dryRun {
		s, err := openStore(ctx, cfg)
		if err != nil {
			fatalf("%v", err)
		}
		defer s.Close()
		repo = s
	}

	failed := 0
	for _, path := range fs.Args() {
		wfs, err := readWorkflowFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		for _, wf := range wfs {
			if *activate {
				wf.Status = schema.WorkflowStatusActive
			}
			created, err := importWorkflow(ctx, repo, validator, wf)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: workflow %q: %v\n", path, wf.ID, err)
				failed++
				continue
			}
			switch {
			case repo == nil:
				fmt.Printf("%s: workflow %q is valid\n", path, wf.ID)
			case created:
				fmt.Printf("%s: created workflow %q (version %d)\n", path, wf.ID, wf.Version)
			default:
				fmt.Printf("%s: updated workflow %q (version %d)\n", path, wf.ID, wf.Version)
			}
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// importWorkflow validates wf and saves or updates it. A nil repo only
// validates.
func importWorkflow(ctx context.Context, repo store.WorkflowRepository, v workflowValidator, wf *schema.Workflow) (created bool, err error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	if err := v.ValidateWorkflow(wf); err != nil {
		return false, err
	}
	if repo == nil {
		return false, nil
	}
	exists, err := repo.Exists(ctx, wf.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, repo.Update(ctx, wf)
	}
	return true, repo.Save(ctx, wf)
}

func readWorkflowFile(path string) ([]*schema.Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeWorkflows(f)
}

// decodeWorkflows reads one or more YAML documents. Step configs are
// arbitrary maps, so each document goes through JSON to land in the
// json.RawMessage fields of the schema types.
func decodeWorkflows(r io.Reader) ([]*schema.Workflow, error) {
	dec := yaml.NewDecoder(r)
	var out []*schema.Workflow
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse yaml: %s", err).WithCause(err)
		}
		if doc == nil {
			continue
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "convert document %d: %s", len(out)+1, err).WithCause(err)
		}
		var wf schema.Workflow
		if err := json.Unmarshal(raw, &wf); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode document %d: %s", len(out)+1, err).WithCause(err)
		}
		out = append(out, &wf)
	}
	if len(out) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow documents found")
	}
	return out, nil
}
