// Package config loads and validates cairn node manifests.
//
// A manifest is a CUE file unified against the embedded #Manifest schema:
// constraints and defaults live in the schema, not in Go code.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/cairnlog/cairn/internal/syncer"
)

//go:embed schema.cue
var schemaSource []byte

// Manifest describes one cairn node: its identity, workspace, store, peers,
// and retry policy.
type Manifest struct {
	Workspace string   `json:"workspace"`
	Frames    []string `json:"frames"`
	Node      Node     `json:"node"`
	Store     string   `json:"store"`
	Peers     []Peer   `json:"peers"`
	Retry     Retry    `json:"retry"`
}

// Node is the local node identity block.
type Node struct {
	ID string `json:"id"`
}

// Peer names a remote node and the store path used to reach it over the
// loopback transport.
type Peer struct {
	ID    string `json:"id"`
	Store string `json:"store"`
}

// Retry mirrors the manifest retry block.
type Retry struct {
	Attempts    int `json:"attempts"`
	BaseDelayMS int `json:"base_delay_ms"`
}

// Policy converts the manifest block to the syncer's retry policy.
func (r Retry) Policy() syncer.RetryPolicy {
	return syncer.RetryPolicy{
		Attempts:  r.Attempts,
		BaseDelay: time.Duration(r.BaseDelayMS) * time.Millisecond,
	}
}

// Peer returns the peer with the given ID.
func (m *Manifest) Peer(id string) (Peer, bool) {
	for _, p := range m.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

// Load reads a manifest file, unifies it with the schema, and decodes it.
// Schema violations surface as CUE validation errors naming the offending
// path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data, path)
}

// Parse validates and decodes manifest source. filename is used in error
// positions only.
func Parse(data []byte, filename string) (*Manifest, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	manifestDef := schema.LookupPath(cue.ParsePath("#Manifest"))
	if err := manifestDef.Err(); err != nil {
		return nil, fmt.Errorf("schema missing #Manifest: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile manifest: %w", err)
	}

	unified := manifestDef.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}

	var m Manifest
	if err := unified.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}
