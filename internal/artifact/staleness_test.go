package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func kinds(offers []Offer) []ActionKind {
	out := make([]ActionKind, 0, len(offers))
	for _, o := range offers {
		out = append(out, o.Kind)
	}
	return out
}

func TestEvaluate_DecisionTable(t *testing.T) {
	tests := []struct {
		name        string
		cached      float64
		full        bool
		now         float64
		sensitivity Sensitivity
		primary     ActionKind
		offers      []ActionKind
		behind      bool
	}{
		{"same position redo", 0.50, false, 0.50, PositionSensitive, ActionRedo,
			[]ActionKind{ActionView, ActionRedo, ActionUpdateToFull}, false},
		{"same position regenerate", 0.50, false, 0.50, PositionInsensitive, ActionRegenerate,
			[]ActionKind{ActionView, ActionRegenerate, ActionUpdateToFull}, false},
		{"new content", 0.50, false, 0.65, PositionSensitive, ActionUpdate,
			[]ActionKind{ActionView, ActionUpdate, ActionUpdateToFull}, true},
		{"small step over noise band", 0.45, false, 0.47, PositionSensitive, ActionUpdate,
			[]ActionKind{ActionView, ActionUpdate, ActionUpdateToFull}, false},
		{"within noise band", 0.45, false, 0.455, PositionSensitive, ActionRedo,
			[]ActionKind{ActionView, ActionRedo, ActionUpdateToFull}, false},
		{"exactly one percent at 50%", 0.50, false, 0.51, PositionSensitive, ActionRedo,
			[]ActionKind{ActionView, ActionRedo, ActionUpdateToFull}, false},
		{"exactly one percent at 20%", 0.20, false, 0.21, PositionSensitive, ActionRedo,
			[]ActionKind{ActionView, ActionRedo, ActionUpdateToFull}, false},
		{"exactly one percent at 45%", 0.45, false, 0.46, PositionSensitive, ActionRedo,
			[]ActionKind{ActionView, ActionRedo, ActionUpdateToFull}, false},
		{"exactly eight percent at 50%", 0.50, false, 0.58, PositionSensitive, ActionUpdate,
			[]ActionKind{ActionView, ActionUpdate, ActionUpdateToFull}, false},
		{"exactly eight percent at 20%", 0.20, false, 0.28, PositionSensitive, ActionUpdate,
			[]ActionKind{ActionView, ActionUpdate, ActionUpdateToFull}, false},
		{"just over eight percent", 0.50, false, 0.5801, PositionSensitive, ActionUpdate,
			[]ActionKind{ActionView, ActionUpdate, ActionUpdateToFull}, true},
		{"reader at the end", 0.50, false, 1.0, PositionSensitive, ActionUpdate,
			[]ActionKind{ActionView, ActionUpdate}, true},
		{"reader went back", 0.60, false, 0.30, PositionSensitive, ActionRedo,
			[]ActionKind{ActionView, ActionRedo, ActionUpdateToFull}, false},
		{"effectively complete", 0.997, false, 0.20, PositionSensitive, ActionView,
			[]ActionKind{ActionView, ActionRegenerate}, false},
		{"full document", 0.10, true, 0.90, PositionSensitive, ActionView,
			[]ActionKind{ActionView, ActionRegenerate}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := Entry{Result: "x", Progress: tc.cached, Meta: Meta{FullDocument: tc.full}}
			st := Evaluate(e, Position{Progress: tc.now}, tc.sensitivity)
			assert.Equal(t, tc.primary, st.Primary)
			assert.Equal(t, tc.offers, kinds(st.Offers))
			assert.Equal(t, tc.behind, st.Behind)
			assert.False(t, st.ScopeChanged)
		})
	}
}

func TestEvaluate_Labels(t *testing.T) {
	st := Evaluate(Entry{Result: "x", Progress: 0.50}, Position{Progress: 0.65}, PositionSensitive)
	labels := make([]string, 0, len(st.Offers))
	for _, o := range st.Offers {
		labels = append(labels, o.Label())
	}
	assert.Equal(t, []string{"View", "Update (to 65%)", "Update to 100%"}, labels)

	st = Evaluate(Entry{Result: "x", Progress: 0.50}, Position{Progress: 0.50}, PositionSensitive)
	assert.Equal(t, "Redo (at 50%)", st.Offers[1].Label())
}

func TestEvaluate_ScopeChangeOverridesUpdate(t *testing.T) {
	e := Entry{Result: "x", Progress: 0.40, Meta: Meta{ScopeFingerprint: ScopeFingerprint([]string{"appendix"})}}

	st := Evaluate(e, Position{Progress: 0.90, ScopeFingerprint: ""}, PositionSensitive)
	assert.True(t, st.ScopeChanged)
	assert.Equal(t, ActionRedo, st.Primary)
	assert.NotContains(t, kinds(st.Offers), ActionUpdate)
	assert.NotContains(t, kinds(st.Offers), ActionUpdateToFull)

	complete := Entry{Result: "x", Progress: 1, Meta: Meta{ScopeFingerprint: ScopeFingerprint([]string{"appendix"})}}
	st = Evaluate(complete, Position{Progress: 1}, PositionInsensitive)
	assert.True(t, st.ScopeChanged)
	assert.Equal(t, ActionRegenerate, st.Primary)
}

func TestScopeFingerprint_OrderIndependent(t *testing.T) {
	assert.Equal(t, ScopeFingerprint([]string{"a", "b"}), ScopeFingerprint([]string{"b", "a"}))
	assert.Equal(t, "", ScopeFingerprint(nil))
}

func TestNotices_DismissalTiedToCachedProgress(t *testing.T) {
	n := NewNotices()
	doc := "/books/a.epub"
	st := Evaluate(Entry{Result: "x", Progress: 0.30}, Position{Progress: 0.50}, PositionSensitive)
	assert.True(t, n.ShouldNotify(doc, st))

	n.Dismiss(doc, st.Cached)
	assert.False(t, n.ShouldNotify(doc, st))
	assert.True(t, n.ShouldNotify("/books/b.epub", st))

	// After an update the cached value changes, so the notice returns.
	st = Evaluate(Entry{Result: "x", Progress: 0.40}, Position{Progress: 0.60}, PositionSensitive)
	assert.True(t, n.ShouldNotify(doc, st))
}
