// Package parser reads legacy conversation items: Markdown files with a
// YAML frontmatter header and the conversation transcript as body.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoFrontmatter is returned for items without a header block.
	ErrNoFrontmatter = errors.New("parser: missing frontmatter")
	// ErrNoDocument is returned for items that do not name their document.
	ErrNoDocument = errors.New("parser: missing document_path")
)

// header is the frontmatter of a legacy item.
type header struct {
	ID           string `yaml:"id"`
	DocumentPath string `yaml:"document_path"`
	Title        string `yaml:"title"`
	Timestamp    string `yaml:"timestamp"`
	Model        string `yaml:"model"`
}

// Item is one parsed legacy conversation.
type Item struct {
	ID           string
	DocumentPath string
	Title        string
	Model        string
	Timestamp    time.Time
	Transcript   string
	// BadTimestamp holds the header timestamp when it could not be parsed;
	// Timestamp is zero then.
	BadTimestamp string
}

// ParseItem parses a legacy item. The title falls back to the first H1 of
// the transcript; the id may be empty. An unparseable timestamp does not
// reject the item, see Item.BadTimestamp.
func ParseItem(data []byte) (*Item, error) {
	block, body, ok := splitFrontmatter(data)
	if !ok {
		return nil, ErrNoFrontmatter
	}
	var h header
	if err := yaml.Unmarshal(block, &h); err != nil {
		return nil, fmt.Errorf("parser: frontmatter: %w", err)
	}
	if strings.TrimSpace(h.DocumentPath) == "" {
		return nil, ErrNoDocument
	}
	ts, err := parseTimestamp(h.Timestamp)
	bad := ""
	if err != nil {
		bad = strings.TrimSpace(h.Timestamp)
	}
	title := h.Title
	if title == "" {
		title = deriveTitle(body)
	}
	return &Item{
		ID:           strings.TrimSpace(h.ID),
		DocumentPath: strings.TrimSpace(h.DocumentPath),
		Title:        title,
		Model:        h.Model,
		Timestamp:    ts,
		Transcript:   body,
		BadTimestamp: bad,
	}, nil
}

// splitFrontmatter separates the YAML block between leading --- delimiters
// from the body.
func splitFrontmatter(data []byte) ([]byte, string, bool) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r\ufeff")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, "", false
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, "", false
	}
	block := rest[:idx]
	after := rest[idx+1+len(delim):]
	return block, strings.TrimLeft(string(after), "\n\r"), true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts RFC 3339, a few date layouts or Unix seconds.
// An empty value yields the zero time.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parser: bad timestamp %q", s)
}

func deriveTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
