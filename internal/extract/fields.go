// Package extract turns raw listing candidates into structured leads.
//
// Each field has its own pure function. The address step works by
// subtraction, so it must run after name, phone and rating are known.
package extract

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/leadgen/internal/model"
)

var (
	phonePattern  = regexp.MustCompile(`(?:\+?\d{1,3}[ -]?)?\(?\d{2,4}\)?[ -]?\d{3,4}[ -]?\d{3,4}`)
	ratingPattern = regexp.MustCompile(`(\d\.\d)\s*\(\d[\d.,]*\)`)
	linePattern   = regexp.MustCompile(`[\r\n]+`)
)

// chrome matches UI labels and opening-hours phrases rendered inside a
// listing card, in English and Indonesian.
var chrome = []*regexp.Regexp{
	regexp.MustCompile(`(?i)buka.*?tutup`),
	regexp.MustCompile(`(?i)tutup.*?buka`),
	regexp.MustCompile(`(?i)open.*?closes`),
	regexp.MustCompile(`(?i)closed.*?opens`),
	regexp.MustCompile(`(?i)open 24 hours|buka 24 jam`),
	regexp.MustCompile(`(?i)send to your phone|kirim ke ponsel`),
	regexp.MustCompile(`(?i)\b(?:website|situs web|directions|rute|save|simpan|nearby|di sekitar|share|bagikan)\b`),
}

// Name returns the candidate's display name, trying the candidate label,
// headline, link label and bold element before the first non-empty line.
func Name(raw model.RawCandidate) string {
	for _, s := range []string{raw.Label, raw.Headline, raw.LinkLabel, raw.Bold} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	for _, line := range linePattern.Split(raw.Text, -1) {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// Phone returns the first phone-like match in text.
func Phone(text string) string {
	return strings.TrimSpace(phonePattern.FindString(text))
}

// Rating returns the numeric rating from the first "4.5 (123)" match.
func Rating(text string) string {
	m := ratingPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// Website returns the first http(s) link whose host is not one of
// sourceDomains or a subdomain of one.
func Website(links []string, sourceDomains []string) string {
	for _, link := range links {
		u, err := url.Parse(strings.TrimSpace(link))
		if err != nil || u.Host == "" {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		if isSourceHost(u.Hostname(), sourceDomains) {
			continue
		}
		return u.String()
	}
	return ""
}

func isSourceHost(host string, domains []string) bool {
	host = strings.ToLower(host)
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Address removes the already-extracted name, phone and rating from text,
// strips UI chrome and returns the first remaining line longer than five
// characters.
func Address(text, name, phone string) string {
	rest := text
	if name != "" {
		rest = strings.Replace(rest, name, "", 1)
	}
	if phone != "" {
		rest = strings.Replace(rest, phone, "", 1)
	}
	if loc := ratingPattern.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]] + rest[loc[1]:]
	}
	for _, re := range chrome {
		rest = re.ReplaceAllString(rest, "")
	}

	for _, line := range linePattern.Split(rest, -1) {
		line = strings.Trim(line, " \t·•")
		if utf8.RuneCountInString(line) > 5 {
			return line
		}
	}
	return ""
}
