package campaign

import "github.com/sells-group/leadgen/internal/model"

// LeadFilter narrows a campaign's leads. Zero fields match everything.
type LeadFilter struct {
	Priority model.Priority
	MinScore float64
}

// FilterLeads returns the leads matching f, in their original order.
func FilterLeads(leads []model.Lead, f LeadFilter) []model.Lead {
	out := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		if f.Priority != "" && l.Priority() != f.Priority {
			continue
		}
		if l.Score() < f.MinScore {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Pagination describes one page of a filtered lead list.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 500
)

// Paginate returns the 1-based page of leads. Out-of-range pages are empty.
func Paginate(leads []model.Lead, page, limit int) ([]model.Lead, Pagination) {
	page = max(page, 1)
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	limit = min(limit, MaxPageLimit)

	p := Pagination{
		Page:       page,
		Limit:      limit,
		Total:      len(leads),
		TotalPages: (len(leads) + limit - 1) / limit,
	}
	if page > p.TotalPages {
		return []model.Lead{}, p
	}
	start := (page - 1) * limit
	return leads[start:min(start+limit, len(leads))], p
}
