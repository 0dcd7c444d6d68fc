// Package fault implements the replay-only fault injector: deterministic,
// pre-planned mutations applied to a recorded journal so the incident
// pipeline can be exercised against reproducible divergences.
package fault

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind identifies a mutation type. See spec.md §4.9.
type Kind string

const (
	KindDrop         Kind = "drop"
	KindSwapAdjacent Kind = "swap_adjacent"
	KindPerturbQty   Kind = "perturb_qty"
)

// Mutation is one entry of a fault plan: at FrameIndex (0-based, referring
// to the original recorded order), apply Kind. Delta is only meaningful for
// PerturbQty (a signed multiple of the instrument's quantity increment).
type Mutation struct {
	FrameIndex int  `yaml:"frame_index"`
	Kind       Kind `yaml:"kind"`
	Delta      int  `yaml:"delta,omitempty"`
}

// Plan is an ordered list of mutations, indexed by frame for O(1) lookup
// during replay.
type Plan struct {
	Mutations []Mutation
	byIndex   map[int]Mutation
}

// NewPlan builds a lookup-indexed plan from a mutation list.
func NewPlan(mutations []Mutation) *Plan {
	p := &Plan{Mutations: mutations, byIndex: make(map[int]Mutation, len(mutations))}
	for _, m := range mutations {
		p.byIndex[m.FrameIndex] = m
	}
	return p
}

// At returns the mutation planned for frameIndex, if any.
func (p *Plan) At(frameIndex int) (Mutation, bool) {
	if p == nil {
		return Mutation{}, false
	}
	m, ok := p.byIndex[frameIndex]
	return m, ok
}

type planFile struct {
	Mutations []Mutation `yaml:"mutations"`
}

// LoadPlan reads a fault plan from a YAML file, the format test authors use
// to pin a reproducible fault scenario (spec.md §4.9, S5).
func LoadPlan(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fault plan: %w", err)
	}
	var pf planFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parsing fault plan: %w", err)
	}
	return NewPlan(pf.Mutations), nil
}
