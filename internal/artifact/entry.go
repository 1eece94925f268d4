// Package artifact caches expensive AI-generated outputs per document and
// action, versioned by the reading progress they cover.
package artifact

import (
	"encoding/json"
	"time"

	"github.com/starford/marginalia/internal/checksum"
)

// Legacy whole-document slots, kept readable for documents cached before
// per-action entries existed.
const (
	SlotSummary  = "_summary"
	SlotAnalysis = "_analysis"
	SlotXRef     = "_xref"
)

var legacySlots = []string{SlotSummary, SlotAnalysis, SlotXRef}

var slotNames = map[string]string{
	SlotSummary:  "Summary",
	SlotAnalysis: "Analysis",
	SlotXRef:     "Cross-reference",
}

// IsLegacySlot reports whether key is one of the whole-document slots.
func IsLegacySlot(key string) bool {
	_, ok := slotNames[key]
	return ok
}

// DisplayName returns a human-readable name for a cache key.
func DisplayName(key string) string {
	if name, ok := slotNames[key]; ok {
		return name
	}
	return key
}

// Meta describes how an artifact was generated.
type Meta struct {
	Model           string `json:"model,omitempty"`
	Language        string `json:"language,omitempty"`
	UsedBookText    bool   `json:"used_book_text,omitempty"`
	UsedAnnotations bool   `json:"used_annotations,omitempty"`
	UsedReasoning   bool   `json:"used_reasoning,omitempty"`
	WebSearchUsed   bool   `json:"web_search_used,omitempty"`
	// FullDocument marks a one-shot generation over the whole document,
	// regardless of the reading position at the time.
	FullDocument bool `json:"full_document,omitempty"`
	// ScopeFingerprint identifies which structural sections were in the
	// reading flow at generation time.
	ScopeFingerprint string `json:"scope_fingerprint,omitempty"`
}

// Entry is one cached artifact.
type Entry struct {
	Result string `json:"result"`
	// Progress is the reading fraction the artifact covers.
	Progress float64 `json:"progress_decimal"`
	// PreviousProgress is the coverage before the last incremental update.
	PreviousProgress *float64  `json:"previous_progress_decimal,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Meta
}

// UnmarshalJSON treats an absent progress_decimal as full coverage.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type plain Entry
	aux := struct {
		*plain
		Progress *float64 `json:"progress_decimal"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Progress = 1.0
	if aux.Progress != nil {
		e.Progress = *aux.Progress
	}
	return nil
}

// Complete reports whether the entry covers the whole document.
func (e Entry) Complete() bool {
	return e.FullDocument || e.Progress >= CompleteThreshold
}

// Summary describes an available artifact for display.
type Summary struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Progress     float64   `json:"progress_decimal"`
	FullDocument bool      `json:"full_document"`
	Timestamp    time.Time `json:"timestamp"`
	Legacy       bool      `json:"legacy"`
}

// ScopeFingerprint fingerprints the set of hidden sections. No hidden
// sections yields "".
func ScopeFingerprint(hiddenFlows []string) string {
	return checksum.Set(hiddenFlows)
}
