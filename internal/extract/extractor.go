package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/sells-group/leadgen/internal/identity"
	"github.com/sells-group/leadgen/internal/model"
)

// MinTextLength is the shortest candidate text worth extracting.
const MinTextLength = 10

// DefaultSourceDomains are the listing source's own hosts.
var DefaultSourceDomains = []string{"google.com", "plus.codes"}

// Extractor applies the field pipeline to raw candidates.
type Extractor struct {
	SourceDomains []string
}

// New returns an Extractor that excludes links to sourceDomains when looking
// for a website. An empty list falls back to DefaultSourceDomains.
func New(sourceDomains []string) *Extractor {
	if len(sourceDomains) == 0 {
		sourceDomains = DefaultSourceDomains
	}
	return &Extractor{SourceDomains: sourceDomains}
}

// Lead extracts one lead. It returns false when no name can be found.
func (e *Extractor) Lead(raw model.RawCandidate) (model.Lead, bool) {
	name := Name(raw)
	if name == "" {
		return model.Lead{}, false
	}
	phone := Phone(raw.Text)

	return model.Lead{
		Name:          name,
		Phone:         phone,
		Rating:        Rating(raw.Text),
		Website:       Website(raw.Links, e.SourceDomains),
		Address:       Address(raw.Text, name, phone),
		ReferenceLink: strings.TrimSpace(raw.ReferenceLink),
	}, true
}

// Pass extracts every usable candidate from one observation of the feed.
// Candidates without a reference link are skipped, as are repeats of a
// link already seen in this pass (a card and its nested anchor both match
// the candidate selector) and candidates with too little text to parse.
func (e *Extractor) Pass(raws []model.RawCandidate) []model.Lead {
	seen := make(map[string]struct{}, len(raws))
	leads := make([]model.Lead, 0, len(raws))
	for _, raw := range raws {
		link := identity.StripQuery(raw.ReferenceLink)
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		if utf8.RuneCountInString(strings.TrimSpace(raw.Text)) < MinTextLength {
			continue
		}
		if l, ok := e.Lead(raw); ok {
			leads = append(leads, l)
		}
	}
	return leads
}
