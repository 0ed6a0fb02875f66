// Package protocol defines the hanging protocol model: weighted matching
// rules, display stages, and the protocol library they are registered in.
package protocol

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Reserved abstract attribute names understood by the matching engine in
// addition to xGGGGEEEE DICOM attribute keys.
const (
	// AbstractPriorAttribute is a relative prior-study reference: -1 for
	// the oldest available prior, n >= 1 for the n-th most recent.
	AbstractPriorAttribute = "abstractPriorValue"

	// NumberOfPriorsAttribute is the count of available prior studies,
	// stamped on a study during protocol matching.
	NumberOfPriorsAttribute = "numberOfPriorsReferenced"
)

// Rule is a single weighted test against one attribute of a study, series
// or instance. Rules are immutable once loaded into a protocol.
type Rule struct {
	ID         string     `yaml:"id"`
	Attribute  string     `yaml:"attribute"`
	Constraint Constraint `yaml:"constraint"`
	Weight     float64    `yaml:"weight"`
	Required   bool       `yaml:"required"`
}

// NewRule builds a rule with a fresh ID and the default weight of 1.
func NewRule(attribute string, constraint Constraint, required bool, weight float64) Rule {
	if weight == 0 {
		weight = 1
	}
	return Rule{
		ID:         uuid.NewString(),
		Attribute:  attribute,
		Constraint: constraint,
		Weight:     weight,
		Required:   required,
	}
}

// Validate checks the rule is usable for matching.
func (r Rule) Validate() error {
	if r.Attribute == "" {
		return fmt.Errorf("rule %s has no attribute", r.ID)
	}
	if err := r.Constraint.Validate(); err != nil {
		return fmt.Errorf("rule %s (%s): %w", r.ID, r.Attribute, err)
	}
	return nil
}

// RuleSet is an ordered sequence of rules evaluated against one entity.
// Order does not affect the score but is preserved in match diagnostics.
type RuleSet []Rule

// Validate checks every rule in the set.
func (rs RuleSet) Validate() error {
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ViewportStructure describes the grid a stage lays its viewports out in.
type ViewportStructure struct {
	LayoutTemplateName string `yaml:"layoutTemplateName"`
	Rows               int    `yaml:"rows"`
	Columns            int    `yaml:"columns"`
}

// NumViewports returns the number of viewport slots the structure holds.
func (vs ViewportStructure) NumViewports() int {
	return vs.Rows * vs.Columns
}

// Viewport is a rule-bearing slot description inside a stage, distinct
// from a rendered screen viewport. Its three rule sets select the study,
// series and image hung into the slot.
type Viewport struct {
	ViewportSettings    map[string]any `yaml:"viewportSettings"`
	StudyMatchingRules  RuleSet        `yaml:"studyMatchingRules"`
	SeriesMatchingRules RuleSet        `yaml:"seriesMatchingRules"`
	ImageMatchingRules  RuleSet        `yaml:"imageMatchingRules"`
}

// Stage is one layout configuration within a protocol.
type Stage struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	ViewportStructure ViewportStructure `yaml:"viewportStructure"`
	Viewports         []Viewport        `yaml:"viewports"`
}

// NewStage builds a named stage with a fresh ID.
func NewStage(name string, structure ViewportStructure) *Stage {
	return &Stage{
		ID:                uuid.NewString(),
		Name:              name,
		ViewportStructure: structure,
	}
}

// Protocol is a named, ordered set of display stages plus the rules used
// to select it automatically for a study.
type Protocol struct {
	ID                    string   `yaml:"id"`
	Name                  string   `yaml:"name"`
	Locked                bool     `yaml:"locked"`
	ProtocolMatchingRules RuleSet  `yaml:"protocolMatchingRules"`
	Stages                []*Stage `yaml:"stages"`

	// NumberOfPriorsReferenced is derived from the study rules of every
	// viewport; call UpdateNumberOfPriorsReferenced after editing rules.
	NumberOfPriorsReferenced int `yaml:"-"`
}

// New creates a protocol with the given name and a fresh ID.
func New(name string) *Protocol {
	return &Protocol{
		ID:   uuid.NewString(),
		Name: name,
	}
}

// AddStage appends a stage to the display sequence.
func (p *Protocol) AddStage(stage *Stage) {
	p.Stages = append(p.Stages, stage)
	p.UpdateNumberOfPriorsReferenced()
}

// AddProtocolMatchingRule appends a selection rule.
func (p *Protocol) AddProtocolMatchingRule(rule Rule) {
	p.ProtocolMatchingRules = append(p.ProtocolMatchingRules, rule)
}

// RemoveProtocolMatchingRule removes the first selection rule with the
// given ID and reports whether one was found.
func (p *Protocol) RemoveProtocolMatchingRule(id string) bool {
	for i, r := range p.ProtocolMatchingRules {
		if r.ID == id {
			p.ProtocolMatchingRules = append(p.ProtocolMatchingRules[:i], p.ProtocolMatchingRules[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateNumberOfPriorsReferenced recomputes the derived prior requirement:
// the maximum prior magnitude referenced by any study rule across all
// viewports. A reference to the oldest prior (-1) needs at least one.
func (p *Protocol) UpdateNumberOfPriorsReferenced() {
	max := 0
	for _, stage := range p.Stages {
		for _, vp := range stage.Viewports {
			for _, rule := range vp.StudyMatchingRules {
				if rule.Attribute != AbstractPriorAttribute {
					continue
				}
				n, ok := rule.Constraint.operandNumber()
				if !ok {
					continue
				}
				magnitude := int(math.Abs(n))
				if magnitude > max {
					max = magnitude
				}
			}
		}
	}
	p.NumberOfPriorsReferenced = max
}

// CreateClone returns an unlocked deep copy of the protocol under a new
// name and ID.
func (p *Protocol) CreateClone(name string) *Protocol {
	clone := &Protocol{
		ID:     uuid.NewString(),
		Name:   name,
		Locked: false,
	}
	if name == "" {
		clone.Name = p.Name
	}
	clone.ProtocolMatchingRules = append(RuleSet(nil), p.ProtocolMatchingRules...)
	for _, stage := range p.Stages {
		st := &Stage{
			ID:                uuid.NewString(),
			Name:              stage.Name,
			ViewportStructure: stage.ViewportStructure,
		}
		for _, vp := range stage.Viewports {
			cp := Viewport{
				StudyMatchingRules:  append(RuleSet(nil), vp.StudyMatchingRules...),
				SeriesMatchingRules: append(RuleSet(nil), vp.SeriesMatchingRules...),
				ImageMatchingRules:  append(RuleSet(nil), vp.ImageMatchingRules...),
			}
			if vp.ViewportSettings != nil {
				cp.ViewportSettings = make(map[string]any, len(vp.ViewportSettings))
				for k, v := range vp.ViewportSettings {
					cp.ViewportSettings[k] = v
				}
			}
			st.Viewports = append(st.Viewports, cp)
		}
		clone.Stages = append(clone.Stages, st)
	}
	clone.UpdateNumberOfPriorsReferenced()
	return clone
}

// Validate checks the protocol and everything it contains.
func (p *Protocol) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("protocol %s has no name", p.ID)
	}
	if err := p.ProtocolMatchingRules.Validate(); err != nil {
		return fmt.Errorf("protocol %q: %w", p.Name, err)
	}
	for _, stage := range p.Stages {
		if stage.ViewportStructure.Rows <= 0 || stage.ViewportStructure.Columns <= 0 {
			return fmt.Errorf("protocol %q stage %q: layout must have positive rows and columns", p.Name, stage.Name)
		}
		if len(stage.Viewports) > stage.ViewportStructure.NumViewports() {
			return fmt.Errorf("protocol %q stage %q: %d viewports exceed %dx%d layout",
				p.Name, stage.Name, len(stage.Viewports), stage.ViewportStructure.Rows, stage.ViewportStructure.Columns)
		}
		for _, vp := range stage.Viewports {
			for _, rs := range []RuleSet{vp.StudyMatchingRules, vp.SeriesMatchingRules, vp.ImageMatchingRules} {
				if err := rs.Validate(); err != nil {
					return fmt.Errorf("protocol %q stage %q: %w", p.Name, stage.Name, err)
				}
			}
		}
	}
	return nil
}
