package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/finrules/internal/audit"
	"github.com/roach88/finrules/internal/engine"
	"github.com/roach88/finrules/internal/ir"
	"github.com/roach88/finrules/internal/ruleset"
	"github.com/roach88/finrules/internal/store"
)

// session is the store, rule registry and engine a command works with.
type session struct {
	store    *store.Store
	registry *ruleset.Registry
	engine   *engine.Engine
	logger   *slog.Logger
}

// openSession opens the configured database and loads the rule set.
// Application logs continue the sequence already in the database.
func openSession(ctx context.Context, opts *RootOptions, resolver engine.Resolver) (*session, error) {
	cfg := opts.Config
	logger := slog.Default().With("workspace", cfg.Workspace)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	reg, err := ruleset.Open(ctx, st, cfg.Limits, ruleset.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, err
	}
	seq, err := st.MaxSeq(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	engineOpts := []engine.Option{
		engine.WithRecorder(audit.NewRecorder(st, audit.WithLogger(logger))),
		engine.WithClock(engine.NewClockAt(seq)),
		engine.WithIDGenerator(engine.UUIDv7Generator{}),
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.Workers),
		engine.WithMaxEvaluations(cfg.MaxEvaluations),
	}
	if resolver != nil {
		engineOpts = append(engineOpts, engine.WithResolver(resolver))
	}

	logger.Debug("session opened", "db", cfg.DBPath, "rules", len(reg.List(cfg.Workspace)), "seq", seq)
	return &session{
		store:    st,
		registry: reg,
		engine:   engine.New(engineOpts...),
		logger:   logger,
	}, nil
}

// snapshot returns the active rule set of ws, narrowed to ruleIDs when any
// are given. Every id must name a rule of the workspace; inactive rules are
// accepted but do not run.
func (s *session) snapshot(ws string, ruleIDs []string) (*ir.Snapshot, error) {
	snap := s.registry.Snapshot(ws)
	if len(ruleIDs) == 0 {
		return snap, nil
	}
	for _, id := range ruleIDs {
		if rule, ok := s.registry.Get(id); !ok || rule.WorkspaceID != ws {
			return nil, ir.NewValidationError(id, ir.CodeNotFound, "rule not found in workspace %q", ws)
		}
	}
	return snap.Only(ruleIDs...), nil
}

// Close releases the engine and the database.
func (s *session) Close() error {
	s.engine.Close()
	return s.store.Close()
}

// RefsFile lists the entity ids that still exist, per kind. Kinds left out
// are not checked.
type RefsFile struct {
	Categories []string `yaml:"categories"`
	Accounts   []string `yaml:"accounts"`
	Payees     []string `yaml:"payees"`
	Tags       []string `yaml:"tags"`
}

// loadResolver reads a RefsFile. An empty path means every id exists.
func loadResolver(path string) (engine.Resolver, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read refs file: %w", err)
	}
	var file RefsFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse refs file: %w", err)
	}

	known := make(map[ir.RefKind][]string)
	for kind, ids := range map[ir.RefKind][]string{
		ir.RefCategory: file.Categories,
		ir.RefAccount:  file.Accounts,
		ir.RefPayee:    file.Payees,
		ir.RefTag:      file.Tags,
	} {
		if ids != nil {
			known[kind] = ids
		}
	}
	return engine.NewStaticResolver(known), nil
}
