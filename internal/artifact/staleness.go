package artifact

import (
	"fmt"
	"math"
	"sync"
)

const (
	// NewContentThreshold is the progress gap that counts as new content.
	NewContentThreshold = 0.01
	// CompleteThreshold is the progress treated as the whole document.
	CompleteThreshold = 0.995
	// NotifyThreshold is the gap at which a reader is told the cached
	// artifact is behind.
	NotifyThreshold = 0.08
)

// Sensitivity tells whether an action's output depends on where the
// reader is.
type Sensitivity int

const (
	PositionSensitive Sensitivity = iota
	PositionInsensitive
)

// ActionKind is an affordance offered for a cached artifact.
type ActionKind string

const (
	ActionView         ActionKind = "view"
	ActionUpdate       ActionKind = "update"
	ActionRedo         ActionKind = "redo"
	ActionRegenerate   ActionKind = "regenerate"
	ActionUpdateToFull ActionKind = "update_to_full"
)

// Offer is one affordance with the progress it would produce.
type Offer struct {
	Kind   ActionKind `json:"kind"`
	Target float64    `json:"target"`
}

// Label renders the offer the way a menu shows it.
func (o Offer) Label() string {
	switch o.Kind {
	case ActionView:
		return "View"
	case ActionUpdate:
		return fmt.Sprintf("Update (to %s)", percent(o.Target))
	case ActionRedo:
		return fmt.Sprintf("Redo (at %s)", percent(o.Target))
	case ActionRegenerate:
		return "Regenerate"
	case ActionUpdateToFull:
		return "Update to 100%"
	}
	return string(o.Kind)
}

// Position is the reader's current state in a document.
type Position struct {
	Progress         float64
	ScopeFingerprint string
}

// Status is the staleness verdict for one cached entry.
type Status struct {
	Complete bool    `json:"complete"`
	Cached   float64 `json:"cached"`
	Current  float64 `json:"current"`
	// Primary is the recommended action.
	Primary ActionKind `json:"primary"`
	Offers  []Offer    `json:"offers"`
	// ScopeChanged is set when the hidden sections differ from those at
	// generation time. It takes priority over progress staleness.
	ScopeChanged bool `json:"scope_changed"`
	// Behind is set when the gap exceeds NotifyThreshold.
	Behind bool `json:"behind"`
}

// Evaluate decides which actions apply to e for a reader at pos.
func Evaluate(e Entry, pos Position, s Sensitivity) Status {
	st := Status{
		Complete:     e.Complete(),
		Cached:       e.Progress,
		Current:      pos.Progress,
		ScopeChanged: e.ScopeFingerprint != pos.ScopeFingerprint,
	}
	view := Offer{Kind: ActionView, Target: e.Progress}
	discard := discardOffer(pos.Progress, s)

	switch {
	case st.ScopeChanged:
		st.Primary = discard.Kind
		st.Offers = []Offer{view, discard}
		return st
	case st.Complete:
		st.Primary = ActionView
		st.Offers = []Offer{view, {Kind: ActionRegenerate, Target: 1}}
		return st
	}

	gap := pos.Progress - e.Progress
	st.Behind = exceeds(gap, NotifyThreshold)
	if exceeds(gap, NewContentThreshold) {
		st.Primary = ActionUpdate
		st.Offers = []Offer{view, {Kind: ActionUpdate, Target: pos.Progress}}
	} else {
		st.Primary = discard.Kind
		st.Offers = []Offer{view, discard}
	}
	if st.Primary != ActionUpdate || pos.Progress < 1 {
		st.Offers = append(st.Offers, Offer{Kind: ActionUpdateToFull, Target: 1})
	}
	return st
}

// thresholdEpsilon absorbs float error in progress differences, so a gap
// of exactly a threshold never exceeds it wherever the reader is.
const thresholdEpsilon = 1e-9

func exceeds(gap, threshold float64) bool {
	return gap > threshold+thresholdEpsilon
}

func discardOffer(at float64, s Sensitivity) Offer {
	if s == PositionInsensitive {
		return Offer{Kind: ActionRegenerate, Target: 1}
	}
	return Offer{Kind: ActionRedo, Target: at}
}

func percent(v float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(v*100)))
}

// Notices tracks "artifact is behind" notices dismissed this session.
// A dismissal only holds for the cached progress it was made at.
type Notices struct {
	mu        sync.Mutex
	dismissed map[noticeKey]struct{}
}

type noticeKey struct {
	doc      string
	progress string
}

func newNoticeKey(doc string, cached float64) noticeKey {
	return noticeKey{doc: doc, progress: fmt.Sprintf("%.4f", cached)}
}

// NewNotices creates an empty dismissal set.
func NewNotices() *Notices {
	return &Notices{dismissed: map[noticeKey]struct{}{}}
}

// Dismiss hides the notice for doc until its cached progress changes.
func (n *Notices) Dismiss(doc string, cached float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissed[newNoticeKey(doc, cached)] = struct{}{}
}

// Dismissed reports whether the notice for (doc, cached) was dismissed.
func (n *Notices) Dismissed(doc string, cached float64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.dismissed[newNoticeKey(doc, cached)]
	return ok
}

// ShouldNotify reports whether a behind notice should be shown for st.
func (n *Notices) ShouldNotify(doc string, st Status) bool {
	return st.Behind && !n.Dismissed(doc, st.Cached)
}
