// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists session checkpoints in an embedded BadgerDB.
//
// A checkpoint records the ids a pipeline run has collected (project,
// graph, simulation, report) and where it stood, so `simdeck run --project`
// and `simdeck status` can resume without asking the backend to redo work.
// The last graph snapshot per graph id is stored alongside.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/api"
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("not found")

const (
	checkpointPrefix = "checkpoint/"
	graphPrefix      = "graph/"
	latestKey        = "latest"
)

// Checkpoint is the resumable state of one pipeline run.
type Checkpoint struct {
	ProjectID    string    `json:"project_id"`
	GraphID      string    `json:"graph_id,omitempty"`
	SimulationID string    `json:"simulation_id,omitempty"`
	ReportID     string    `json:"report_id,omitempty"`
	Phase        string    `json:"phase"`
	SetupStep    string    `json:"setup_step,omitempty"`
	Status       string    `json:"status"`
	RunID        string    `json:"run_id,omitempty"`
	Epoch        uint64    `json:"epoch"`
	MaxRounds    *int      `json:"max_rounds,omitempty"`
	TotalRounds  int       `json:"total_rounds,omitempty"`
	Actions      int       `json:"actions,omitempty"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is a session store.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	once   sync.Once
	closeE error
}

// Open opens a store.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory.
//
// # Outputs
//
//   - *Store: Call Close when done
//   - error: Non-nil if the database cannot be opened
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		s.gc.start()
	}
	return s, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.once.Do(func() {
		if s.gc != nil {
			s.gc.stop()
		}
		s.closeE = s.db.Close()
	})
	return s.closeE
}

// SaveCheckpoint writes a checkpoint keyed by project id and marks it the
// latest.
func (s *Store) SaveCheckpoint(cp Checkpoint) error {
	if cp.ProjectID == "" {
		return errors.New("checkpoint needs a project id")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(checkpointPrefix+cp.ProjectID), data); err != nil {
			return err
		}
		return txn.Set([]byte(latestKey), []byte(cp.ProjectID))
	})
}

// Checkpoint loads the checkpoint for a project.
func (s *Store) Checkpoint(ctx context.Context, projectID string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.get(ctx, checkpointPrefix+projectID, &cp)
	return cp, err
}

// Latest loads the most recently saved checkpoint.
func (s *Store) Latest(ctx context.Context) (Checkpoint, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			id = string(v)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read latest checkpoint: %w", err)
	}
	return s.Checkpoint(ctx, id)
}

// FindBySimulation returns the checkpoint that owns a simulation id.
func (s *Store) FindBySimulation(ctx context.Context, simulationID string) (Checkpoint, error) {
	all, err := s.Checkpoints(ctx)
	if err != nil {
		return Checkpoint{}, err
	}
	for _, cp := range all {
		if cp.SimulationID == simulationID {
			return cp, nil
		}
	}
	return Checkpoint{}, ErrNotFound
}

// Checkpoints lists every checkpoint, newest first.
func (s *Store) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(checkpointPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var cp Checkpoint
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &cp)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// SaveGraph stores the last snapshot of a graph.
func (s *Store) SaveGraph(snap api.GraphSnapshot) error {
	if snap.GraphID == "" {
		return errors.New("graph snapshot needs a graph id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(graphPrefix+snap.GraphID), data)
	})
}

// Graph loads the stored snapshot of a graph.
func (s *Store) Graph(ctx context.Context, graphID string) (api.GraphSnapshot, error) {
	var snap api.GraphSnapshot
	err := s.get(ctx, graphPrefix+graphID, &snap)
	return snap, err
}

func (s *Store) get(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return err
}
