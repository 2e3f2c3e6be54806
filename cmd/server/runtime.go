package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"rocket-nested/internal/config"
	"rocket-nested/internal/metadata"
	"rocket-nested/internal/store"
)

// runtime is the state shared by every subcommand.
type runtime struct {
	cfg   *config.Config
	store *store.Store
	reg   *metadata.Registry
}

// openRuntime loads config, connects to the database, bootstraps the system
// tables and loads the schema. The schema file wins over the metadata tables
// when it exists.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	s, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		s.Close()
		return nil, err
	}

	reg := metadata.NewRegistry()
	if err := loadSchema(ctx, cfg, s, reg); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Schema.Bootstrap {
		if err := s.EnsureTables(ctx, reg); err != nil {
			s.Close()
			return nil, fmt.Errorf("ensure tables: %w", err)
		}
	}
	return &runtime{cfg: cfg, store: s, reg: reg}, nil
}

func loadSchema(ctx context.Context, cfg *config.Config, s *store.Store, reg *metadata.Registry) error {
	if cfg.Schema.Path != "" {
		err := metadata.LoadFile(cfg.Schema.Path, reg)
		if err == nil {
			log.Printf("Schema loaded from %s (%d entities)", cfg.Schema.Path, len(reg.AllEntities()))
			return nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		log.Printf("WARN: schema file %s not found, loading metadata tables", cfg.Schema.Path)
	}
	if err := metadata.LoadAll(ctx, s.DB, reg); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}
	return nil
}

func (r *runtime) Close() {
	r.store.Close()
}
