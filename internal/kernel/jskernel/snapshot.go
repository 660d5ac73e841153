package jskernel

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/kernos-ai/kernos/internal/schema"
)

// snapshotEntry is one serialised binding of the evaluation environment.
type snapshotEntry struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Snapshot serialises all user bindings as wire JSON, preserving the
// environment by value for transfer into a cloned session.
func (e *Evaluator) Snapshot() ([]byte, error) {
	vars, err := e.Variables(nil)
	if err != nil {
		return nil, err
	}

	global := e.vm.GlobalObject()
	entries := make([]snapshotEntry, 0, len(vars))
	for _, v := range vars {
		node := e.export(global.Get(v.Name))
		value, err := schema.MarshalNode(node)
		if err != nil {
			return nil, fmt.Errorf("jskernel: snapshot %s: %w", v.Name, err)
		}
		entries = append(entries, snapshotEntry{Name: v.Name, Value: value})
	}
	return json.Marshal(entries)
}

// Restore rehydrates bindings from a snapshot and replaces the VM's
// random source, so a clone never replays its sibling's pseudo-random
// sequence.
func (e *Evaluator) Restore(snapshot []byte) error {
	var entries []snapshotEntry
	if err := json.Unmarshal(snapshot, &entries); err != nil {
		return fmt.Errorf("jskernel: parse snapshot: %w", err)
	}

	for _, entry := range entries {
		node, err := schema.DecodeNode(entry.Value)
		if err != nil {
			return fmt.Errorf("jskernel: decode snapshot value for %s: %w", entry.Name, err)
		}
		if err := e.Assign(nil, entry.Name, node); err != nil {
			return err
		}
	}

	seed := time.Now().UnixNano() ^ int64(os.Getpid())<<32
	source := rand.New(rand.NewSource(seed))
	e.vm.SetRandSource(source.Float64)
	return nil
}
