package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Status is a campaign lifecycle state.
type Status string

const (
	StatusStarting          Status = "STARTING"
	StatusScraping          Status = "SCRAPING"
	StatusAnalyzing         Status = "ANALYZING"
	StatusGeneratingContent Status = "GENERATING_CONTENT"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"
)

var statusNext = map[Status]Status{
	StatusStarting:          StatusScraping,
	StatusScraping:          StatusAnalyzing,
	StatusAnalyzing:         StatusGeneratingContent,
	StatusGeneratingContent: StatusCompleted,
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s may move to next. FAILED is reachable
// from every non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return statusNext[s] == next
}

// Mode describes how a campaign produced its queries.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeGrid     Mode = "grid"
	ModeMerge    Mode = "merge"
)

// Stats aggregates a campaign's leads.
type Stats struct {
	TotalLeads    int     `json:"total_leads"`
	PriorityLeads int     `json:"priority_leads"`
	AverageScore  float64 `json:"average_score"`
}

// Campaign is one end-to-end run and its deduplicated leads.
type Campaign struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Industry     string     `json:"industry"`
	Mode         Mode       `json:"mode"`
	Location     string     `json:"location,omitempty"`
	SearchQuery  string     `json:"search_query"`
	ZipStart     string     `json:"zip_start,omitempty"`
	ZipEnd       string     `json:"zip_end,omitempty"`
	BatchSize    int        `json:"batch_size,omitempty"`
	MaxResults   int        `json:"max_results"`
	YourService  string     `json:"your_service,omitempty"`
	ContentStyle string     `json:"content_style,omitempty"`
	Language     string     `json:"language,omitempty"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	Leads        []Lead     `json:"leads,omitempty"`
	Stats        Stats      `json:"stats"`
	StartedAt    time.Time  `json:"started_at"`
	ExecutedAt   *time.Time `json:"executed_at,omitempty"`
}

// NewCampaignID builds an id of the form campaign_<slug>_<unix-ms>.
func NewCampaignID(name string, now time.Time) string {
	return fmt.Sprintf("campaign_%s_%d", slug(name), now.UnixMilli())
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func slug(name string) string {
	folded, _, err := transform.String(foldDiacritics, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(folded)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "untitled"
	}
	return out
}
