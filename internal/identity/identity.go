// Package identity holds the canonical lead identity rule and an ordered
// deduplicating accumulator built on it.
package identity

import (
	"strings"

	"github.com/sells-group/leadgen/internal/model"
)

// StripQuery removes the query string from a link.
func StripQuery(link string) string {
	link = strings.TrimSpace(link)
	if i := strings.IndexByte(link, '?'); i >= 0 {
		return link[:i]
	}
	return link
}

// Derive returns the identity key for a lead: the reference link without its
// query string, else the phone number, else lower(name|address).
func Derive(l model.Lead) string {
	if link := StripQuery(l.ReferenceLink); link != "" {
		return link
	}
	if phone := strings.TrimSpace(l.Phone); phone != "" {
		return phone
	}
	return strings.ToLower(strings.TrimSpace(l.Name) + "|" + strings.TrimSpace(l.Address))
}

// Set accumulates leads keyed by identity, keeping the first lead seen for
// each key in insertion order. Not safe for concurrent use.
type Set struct {
	index map[string]int
	leads []model.Lead
}

// maxPresize bounds the up-front allocation of NewSet; larger sets grow
// as leads arrive.
const maxPresize = 256

// NewSet returns an empty set with room for n leads, up to maxPresize.
func NewSet(n int) *Set {
	n = min(max(n, 0), maxPresize)
	return &Set{
		index: make(map[string]int, n),
		leads: make([]model.Lead, 0, n),
	}
}

// Add inserts l unless a lead with the same identity exists. It reports
// whether l was new.
func (s *Set) Add(l model.Lead) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	key := Derive(l)
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = len(s.leads)
	s.leads = append(s.leads, l)
	return true
}

// AddAll inserts every lead and returns how many were new.
func (s *Set) AddAll(leads []model.Lead) int {
	added := 0
	for _, l := range leads {
		if s.Add(l) {
			added++
		}
	}
	return added
}

// Get returns the stored lead for key.
func (s *Set) Get(key string) (model.Lead, bool) {
	i, ok := s.index[key]
	if !ok {
		return model.Lead{}, false
	}
	return s.leads[i], true
}

// Len returns the number of distinct identities.
func (s *Set) Len() int { return len(s.leads) }

// Leads returns a copy of the leads in insertion order.
func (s *Set) Leads() []model.Lead {
	out := make([]model.Lead, len(s.leads))
	copy(out, s.leads)
	return out
}
