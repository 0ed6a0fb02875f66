package protocol

import (
	"testing"
)

func chestViewport(priorValue int) Viewport {
	vp := Viewport{
		SeriesMatchingRules: RuleSet{
			NewRule("x0008103e", Contains("Lung"), false, 1),
		},
	}
	if priorValue != 0 {
		vp.StudyMatchingRules = RuleSet{
			NewRule(AbstractPriorAttribute, Equals(priorValue), false, 1),
		}
	}
	return vp
}

func TestUpdateNumberOfPriorsReferenced(t *testing.T) {
	tests := []struct {
		name     string
		priors   []int
		expected int
	}{
		{"no prior references", []int{0}, 0},
		{"one prior back", []int{0, 1}, 1},
		{"two priors back", []int{0, 2}, 2},
		{"oldest counts as one", []int{0, -1}, 1},
		{"max wins", []int{1, 3, 2}, 3},
	}

	for _, tc := range tests {
		p := New("test")
		stage := NewStage("stage", ViewportStructure{LayoutTemplateName: "gridLayout", Rows: 1, Columns: len(tc.priors)})
		for _, prior := range tc.priors {
			stage.Viewports = append(stage.Viewports, chestViewport(prior))
		}
		p.AddStage(stage)

		if p.NumberOfPriorsReferenced != tc.expected {
			t.Errorf("%s: NumberOfPriorsReferenced = %d, want %d", tc.name, p.NumberOfPriorsReferenced, tc.expected)
		}
	}
}

func TestProtocolCreateClone(t *testing.T) {
	p := New("CT Chest")
	p.Locked = true
	p.AddProtocolMatchingRule(NewRule("x00081030", Contains("CT CHEST"), false, 2))
	stage := NewStage("stage", ViewportStructure{LayoutTemplateName: "gridLayout", Rows: 1, Columns: 2})
	stage.Viewports = []Viewport{chestViewport(0), chestViewport(1)}
	p.AddStage(stage)

	clone := p.CreateClone("CT Chest Copy")

	if clone.ID == p.ID {
		t.Error("clone must get a new ID")
	}
	if clone.Locked {
		t.Error("clone must be unlocked")
	}
	if clone.Name != "CT Chest Copy" {
		t.Errorf("clone name = %q, want %q", clone.Name, "CT Chest Copy")
	}
	if clone.NumberOfPriorsReferenced != 1 {
		t.Errorf("clone NumberOfPriorsReferenced = %d, want 1", clone.NumberOfPriorsReferenced)
	}

	// Mutating the clone must not leak into the original.
	clone.Stages[0].Viewports[0].SeriesMatchingRules[0].Weight = 99
	if p.Stages[0].Viewports[0].SeriesMatchingRules[0].Weight == 99 {
		t.Error("clone shares rule storage with the original")
	}
}

func TestRemoveProtocolMatchingRule(t *testing.T) {
	p := New("test")
	rule := NewRule("x00080060", Equals("CT"), false, 1)
	p.AddProtocolMatchingRule(rule)

	if !p.RemoveProtocolMatchingRule(rule.ID) {
		t.Error("existing rule should be removed")
	}
	if p.RemoveProtocolMatchingRule(rule.ID) {
		t.Error("removing twice should report false")
	}
	if len(p.ProtocolMatchingRules) != 0 {
		t.Errorf("rules remaining = %d, want 0", len(p.ProtocolMatchingRules))
	}
}

func TestProtocolValidate(t *testing.T) {
	p := New("")
	if err := p.Validate(); err == nil {
		t.Error("protocol without a name should fail validation")
	}

	p = New("bad layout")
	p.Stages = []*Stage{NewStage("s", ViewportStructure{Rows: 0, Columns: 1})}
	if err := p.Validate(); err == nil {
		t.Error("non-positive layout should fail validation")
	}

	p = New("too many viewports")
	stage := NewStage("s", ViewportStructure{LayoutTemplateName: "gridLayout", Rows: 1, Columns: 1})
	stage.Viewports = []Viewport{{}, {}}
	p.Stages = []*Stage{stage}
	if err := p.Validate(); err == nil {
		t.Error("more viewports than slots should fail validation")
	}
}

func TestViewportStructureNumViewports(t *testing.T) {
	vs := ViewportStructure{Rows: 2, Columns: 3}
	if vs.NumViewports() != 6 {
		t.Errorf("NumViewports = %d, want 6", vs.NumViewports())
	}
}

func TestLibraryOrderingAndDefault(t *testing.T) {
	l := NewLibrary()

	def := l.Default()
	if def == nil {
		t.Fatal("new library must carry a default protocol")
	}
	if !def.Locked {
		t.Error("default protocol should be locked")
	}
	if def.Stages[0].ViewportStructure.NumViewports() != 1 {
		t.Error("default protocol should be a 1x1 layout")
	}

	a := New("A")
	a.AddProtocolMatchingRule(NewRule("x00080060", Equals("CT"), false, 1))
	a.Stages = DefaultProtocol().Stages
	b := New("B")
	b.AddProtocolMatchingRule(NewRule("x00080060", Equals("CT"), false, 1))
	b.Stages = DefaultProtocol().Stages

	if err := l.Register(a); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if err := l.Register(b); err != nil {
		t.Fatalf("register B: %v", err)
	}
	if err := l.Register(a); err == nil {
		t.Error("duplicate registration should fail")
	}

	all := l.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d protocols, want 3", len(all))
	}
	if all[1].Name != "A" || all[2].Name != "B" {
		t.Error("All() should preserve registration order")
	}

	if err := l.SetDefault(a.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if l.Default().Name != "A" {
		t.Error("SetDefault did not take effect")
	}
	if err := l.SetDefault("missing"); err == nil {
		t.Error("SetDefault with unknown ID should fail")
	}
}
