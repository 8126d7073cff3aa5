package model

import "strings"

// Priority ranks a lead after scoring.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// ParsePriority normalizes a priority string case-insensitively.
// The second return is false when s is not a known priority.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	}
	return "", false
}

// PriorityForScore derives a priority from a 0-100 score.
func PriorityForScore(score float64) Priority {
	switch {
	case score >= 70:
		return PriorityHigh
	case score >= 40:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Intelligence is the enrichment block attached to a lead by scoring and
// content generation.
type Intelligence struct {
	Score    float64           `json:"score"`
	Priority Priority          `json:"priority"`
	Analysis string            `json:"analysis,omitempty"`
	Content  map[string]string `json:"content,omitempty"` // channel -> generated text
}

// Lead is one candidate business record.
type Lead struct {
	Name          string        `json:"name"`
	Address       string        `json:"address,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	Rating        string        `json:"rating,omitempty"`
	Website       string        `json:"website,omitempty"`
	ReferenceLink string        `json:"reference_link,omitempty"`
	Query         string        `json:"query,omitempty"`
	Zip           string        `json:"zip,omitempty"`
	Intelligence  *Intelligence `json:"intelligence,omitempty"`
}

// Score returns the lead's score, or 0 when it has not been scored.
func (l Lead) Score() float64 {
	if l.Intelligence == nil {
		return 0
	}
	return l.Intelligence.Score
}

// Priority returns the lead's priority, or "" when it has not been scored.
func (l Lead) Priority() Priority {
	if l.Intelligence == nil {
		return ""
	}
	return l.Intelligence.Priority
}

// Query is one unit of search work.
type Query struct {
	Phrase string `json:"phrase"`
	Zip    string `json:"zip,omitempty"`
}

// String returns the text sent to the listing source.
func (q Query) String() string {
	if q.Zip == "" {
		return q.Phrase
	}
	return q.Phrase + " " + q.Zip
}

// RawCandidate is what the listing source observed for one visible candidate.
type RawCandidate struct {
	Text          string   `json:"text"`
	Label         string   `json:"label,omitempty"`
	Headline      string   `json:"headline,omitempty"`
	LinkLabel     string   `json:"link_label,omitempty"`
	Bold          string   `json:"bold,omitempty"`
	ReferenceLink string   `json:"reference_link,omitempty"`
	Links         []string `json:"links,omitempty"`
}
