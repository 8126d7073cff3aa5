package model

import (
	"fmt"
	"strings"
)

const (
	DefaultMaxResults   = 120
	DefaultContentStyle = "balanced"
	DefaultLanguage     = "english"
	MinBatchSize        = 1
	MaxBatchSize        = 5
)

// ValidationError reports a campaign request that can never be started.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid campaign request: %s %s", e.Field, e.Reason)
}

// CampaignRequest is the input that starts a campaign.
type CampaignRequest struct {
	Name         string `json:"name" yaml:"name"`
	Industry     string `json:"industry" yaml:"industry"`
	SearchQuery  string `json:"search_query" yaml:"search_query"`
	YourService  string `json:"your_service" yaml:"your_service"`
	Mode         Mode   `json:"mode,omitempty" yaml:"mode"`
	Location     string `json:"location,omitempty" yaml:"location"`
	ZipStart     string `json:"zip_start,omitempty" yaml:"zip_start"`
	ZipEnd       string `json:"zip_end,omitempty" yaml:"zip_end"`
	BatchSize    int    `json:"batch_size,omitempty" yaml:"batch_size"`
	MaxResults   int    `json:"max_results,omitempty" yaml:"max_results"`
	ContentStyle string `json:"content_style,omitempty" yaml:"content_style"`
	Language     string `json:"language,omitempty" yaml:"language"`
}

// Normalize fills defaulted fields. A request naming a zip range without a
// mode is treated as grid mode.
func (r *CampaignRequest) Normalize(defaultMaxResults int) {
	r.Name = strings.TrimSpace(r.Name)
	r.Industry = strings.TrimSpace(r.Industry)
	r.SearchQuery = strings.TrimSpace(r.SearchQuery)
	r.Location = strings.TrimSpace(r.Location)
	r.ZipStart = strings.TrimSpace(r.ZipStart)
	r.ZipEnd = strings.TrimSpace(r.ZipEnd)

	if r.Mode == "" {
		if r.ZipStart != "" || r.ZipEnd != "" {
			r.Mode = ModeGrid
		} else {
			r.Mode = ModeStandard
		}
	}
	if r.MaxResults <= 0 {
		if defaultMaxResults <= 0 {
			defaultMaxResults = DefaultMaxResults
		}
		r.MaxResults = defaultMaxResults
	}
	if r.ContentStyle == "" {
		r.ContentStyle = DefaultContentStyle
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if r.Mode == ModeGrid && r.BatchSize == 0 {
		r.BatchSize = MinBatchSize
	}
}

// Validate checks required fields and the batch size bound.
func (r CampaignRequest) Validate() error {
	required := []struct{ field, value string }{
		{"name", r.Name},
		{"industry", r.Industry},
		{"search_query", r.SearchQuery},
		{"your_service", strings.TrimSpace(r.YourService)},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.field, Reason: "is required"}
		}
	}

	switch r.Mode {
	case ModeStandard, "":
		if strings.TrimSpace(r.Location) == "" {
			return &ValidationError{Field: "location", Reason: "is required in standard mode"}
		}
	case ModeGrid:
		if strings.TrimSpace(r.ZipStart) == "" {
			return &ValidationError{Field: "zip_start", Reason: "is required in grid mode"}
		}
		if strings.TrimSpace(r.ZipEnd) == "" {
			return &ValidationError{Field: "zip_end", Reason: "is required in grid mode"}
		}
		if r.BatchSize < MinBatchSize || r.BatchSize > MaxBatchSize {
			return &ValidationError{
				Field:  "batch_size",
				Reason: fmt.Sprintf("must be between %d and %d", MinBatchSize, MaxBatchSize),
			}
		}
	default:
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("%q is not a campaign mode", r.Mode)}
	}

	if r.MaxResults < 0 {
		return &ValidationError{Field: "max_results", Reason: "must be positive"}
	}
	return nil
}

// Campaign builds the initial campaign record for an accepted request. Grid
// campaigns are labelled with their zip range in place of a location.
func (r CampaignRequest) Campaign(id string) *Campaign {
	location := r.Location
	if r.Mode == ModeGrid {
		location = fmt.Sprintf("Zip Range %s-%s", r.ZipStart, r.ZipEnd)
	}
	return &Campaign{
		ID:           id,
		Name:         r.Name,
		Industry:     r.Industry,
		Mode:         r.Mode,
		Location:     location,
		SearchQuery:  r.SearchQuery,
		ZipStart:     r.ZipStart,
		ZipEnd:       r.ZipEnd,
		BatchSize:    r.BatchSize,
		MaxResults:   r.MaxResults,
		YourService:  r.YourService,
		ContentStyle: r.ContentStyle,
		Language:     r.Language,
		Status:       StatusStarting,
	}
}
