// ABOUTME: Fault-severity policy loading and lookup.
// ABOUTME: TOML file decode plus compiled-in defaults.

package policy

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

// Defaults, matching the NSI-CS errorEvent vocabulary. forcedEnd means the
// provider unilaterally ended the reservation; terminateFailed and
// activateFailed leave the provider side in a state the requester cannot
// repair on its own.
var defaultUnrecoverable = []string{
	"forcedEnd",
	"terminateFailed",
	"activateFailed",
}

// file is the TOML shape of a policy file.
type file struct {
	Events struct {
		Unrecoverable []string `toml:"unrecoverable"`
	} `toml:"events"`
	Faults struct {
		UnrecoverableErrorIDs []string `toml:"unrecoverable_error_ids"`
	} `toml:"faults"`
}

// table is one immutable compiled policy.
type table struct {
	events   map[string]bool
	errorIDs map[string]bool
}

// Policy answers severity lookups. Safe for concurrent use; Reload swaps
// the underlying table atomically.
type Policy struct {
	current atomic.Pointer[table]
}

// Default returns the compiled-in policy.
func Default() *Policy {
	p := &Policy{}
	p.current.Store(compile(defaultUnrecoverable, nil))
	return p
}

// Load reads a policy file. Listed names extend nothing - the file is the
// whole policy - so an empty file means everything is recoverable.
func Load(path string) (*Policy, error) {
	p := &Policy{}
	if err := p.Reload(path); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the policy file and swaps it in.
func (p *Policy) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}
	var f file
	if _, err := toml.Decode(string(data), &f); err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}
	p.current.Store(compile(f.Events.Unrecoverable, f.Faults.UnrecoverableErrorIDs))
	return nil
}

func compile(events, errorIDs []string) *table {
	t := &table{
		events:   make(map[string]bool, len(events)),
		errorIDs: make(map[string]bool, len(errorIDs)),
	}
	for _, e := range events {
		t.events[strings.TrimSpace(e)] = true
	}
	for _, id := range errorIDs {
		t.errorIDs[strings.TrimSpace(id)] = true
	}
	return t
}

// EventUnrecoverable reports whether an errorEvent name is fatal for the
// connection lifecycle.
func (p *Policy) EventUnrecoverable(event string) bool {
	return p.current.Load().events[event]
}

// FaultUnrecoverable reports whether a fault with the given serviceException
// error id is fatal for the connection lifecycle.
func (p *Policy) FaultUnrecoverable(errorID string) bool {
	return p.current.Load().errorIDs[errorID]
}
