package synctest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a two-node sync conformance test.
type Scenario struct {
	// Name uniquely identifies this scenario; golden traces are stored
	// under it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Workspace applies to both nodes unless a node overrides it.
	// Defaults to "ws".
	Workspace string `yaml:"workspace,omitempty"`

	// Nodes seeds the two logs. Exactly two entries; events are appended
	// in listed order, so parents must precede children.
	Nodes []NodeSetup `yaml:"nodes"`

	// Sync names the initiator (from) and responder (to).
	Sync SyncSpec `yaml:"sync"`

	// Attempts overrides the retry budget. Defaults to 1 so failure
	// scenarios produce a single-exchange trace.
	Attempts int `yaml:"attempts,omitempty"`

	// Expect declares the outcome.
	Expect Expect `yaml:"expect"`
}

// NodeSetup seeds one node's log.
type NodeSetup struct {
	ID string `yaml:"id"`

	// Workspace override for scope mismatch scenarios.
	Workspace string `yaml:"workspace,omitempty"`

	Events []EventSpec `yaml:"events,omitempty"`
}

// EventSpec is one seeded event. IDs are caller-assigned so traces and
// assertions stay hand-computable.
type EventSpec struct {
	ID      string   `yaml:"id"`
	Type    string   `yaml:"type,omitempty"`   // defaults to "given"
	Actor   string   `yaml:"actor"`
	Target  string   `yaml:"target,omitempty"` // becomes payload.recordId
	Clock   int64    `yaml:"clock"`
	Parents []string `yaml:"parents,omitempty"`

	// Node overrides the originating node recorded in the event context.
	// Defaults to the seeding node's ID.
	Node string `yaml:"node,omitempty"`
}

// SyncSpec names the sync direction.
type SyncSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Expect declares the scenario outcome.
type Expect struct {
	Received  int `yaml:"received"`
	Sent      int `yaml:"sent"`
	Conflicts int `yaml:"conflicts"`

	// Error, when set, must be a substring of the sync error.
	Error string `yaml:"error,omitempty"`

	// Converged asserts both logs hold the same data events afterwards
	// (sync bookkeeping events excluded).
	Converged bool `yaml:"converged,omitempty"`

	// ParkedOnFrom asserts the initiator's parked count after the sync.
	ParkedOnFrom int `yaml:"parked_on_from,omitempty"`

	// FailureRecorded asserts a durable sync:failure event on the
	// initiator.
	FailureRecorded bool `yaml:"failure_recorded,omitempty"`
}

// LoadScenario reads and validates one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadScenarios reads every *.yaml scenario in a directory, sorted by name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	scenarios := make([]*Scenario, 0, len(matches))
	for _, path := range matches {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func (s *Scenario) applyDefaults() {
	if s.Workspace == "" {
		s.Workspace = "ws"
	}
	if s.Attempts == 0 {
		s.Attempts = 1
	}
	for i := range s.Nodes {
		if s.Nodes[i].Workspace == "" {
			s.Nodes[i].Workspace = s.Workspace
		}
		for j := range s.Nodes[i].Events {
			if s.Nodes[i].Events[j].Type == "" {
				s.Nodes[i].Events[j].Type = "given"
			}
			if s.Nodes[i].Events[j].Node == "" {
				s.Nodes[i].Events[j].Node = s.Nodes[i].ID
			}
		}
	}
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if strings.ContainsAny(s.Name, " /") {
		return fmt.Errorf("name %q must be a valid golden file stem", s.Name)
	}
	if len(s.Nodes) != 2 {
		return fmt.Errorf("want exactly 2 nodes, got %d", len(s.Nodes))
	}
	ids := map[string]bool{}
	for _, n := range s.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		ids[n.ID] = true
	}
	if !ids[s.Sync.From] || !ids[s.Sync.To] {
		return fmt.Errorf("sync.from/sync.to must name declared nodes")
	}
	if s.Sync.From == s.Sync.To {
		return fmt.Errorf("sync.from and sync.to must differ")
	}
	return nil
}
