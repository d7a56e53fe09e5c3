package strategies

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^/\s?#]+`)

var doiPageSuffixes = []string{".full-text", ".full.pdf", ".full", ".abstract", ".pdf"}

// FindDOI extracts a DOI from a landing page link.
func FindDOI(link string) (string, bool) {
	path := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		path = u.Path
	}
	match := doiPattern.FindString(path)
	if match == "" {
		return "", false
	}
	for _, suffix := range doiPageSuffixes {
		if strings.HasSuffix(match, suffix) {
			match = strings.TrimSuffix(match, suffix)
			break
		}
	}
	return match, true
}

// recordDOI returns the record's DOI, falling back to its landing page.
func recordDOI(rec scraper.Record) (string, bool) {
	if doi, ok := externalID(rec, SourceDOI); ok {
		return doi, true
	}
	if pager, ok := rec.(scraper.LandingPager); ok {
		return FindDOI(pager.LandingURL())
	}
	return "", false
}
