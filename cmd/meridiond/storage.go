package main

import (
	"fmt"
	"os"

	"github.com/cuemby/meridian/pkg/storage"
)

// openDurableStore opens the BoltDB-backed raft stores under dataDir,
// creating the directory if needed. Resolves SPEC_FULL.md's durability
// decision: durable when a data directory is configured, in-memory
// otherwise.
func openDurableStore(dataDir string) (storage.Stores, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return storage.Stores{}, fmt.Errorf("meridiond: create data dir %s: %w", dataDir, err)
	}
	stores, err := storage.NewBolt(dataDir)
	if err != nil {
		return storage.Stores{}, fmt.Errorf("meridiond: open durable store: %w", err)
	}
	return stores, nil
}
