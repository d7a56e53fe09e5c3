package semanticscholar

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

// ErrNoBibTeX is returned for papers without a BibTeX citation.
var ErrNoBibTeX = errors.New("paper has no bibtex citation")

// Citation is the metadata recorded for each fetched paper.
type Citation struct {
	Key    string `json:"key"`
	BibTeX string `json:"bibtex"`
	Title  string `json:"title"`
	Tldr   string `json:"tldr,omitempty"`
	Year   int    `json:"year,omitempty"`
	URL    string `json:"url,omitempty"`
}

var entryTypes = []struct {
	source string
	bibtex string
}{
	{"JournalArticle", "article"},
	{"Review", "article"},
	{"BookSection", "inbook"},
	{"Book", "book"},
	{"ConferencePaper", "inproceedings"},
	{"Conference", "inproceedings"},
	{"Dataset", "misc"},
	{"Dissertation", "phdthesis"},
	{"Journal", "article"},
	{"Patent", "patent"},
	{"Preprint", "article"},
	{"Report", "techreport"},
	{"Thesis", "phdthesis"},
	{"WebPage", "misc"},
	{"Plain", "article"},
}

var listEntryType = regexp.MustCompile(`@\['(.*?)'\]`)

// CleanBibTeX rewrites the Python-list entry types Semantic Scholar emits,
// such as @['JournalArticle', 'Review'], into standard BibTeX types.
func CleanBibTeX(bibtex string) string {
	if strings.Contains(bibtex, "@None") {
		return strings.Replace(bibtex, "@None", "@article", 1)
	}
	loc := listEntryType.FindStringSubmatchIndex(bibtex)
	if loc == nil {
		return bibtex
	}
	kinds := bibtex[loc[2]:loc[3]]
	kind := "article"
	for _, t := range entryTypes {
		if strings.Contains(kinds, t.source) {
			kind = t.bibtex
			break
		}
	}
	return bibtex[:loc[0]] + "@" + kind + bibtex[loc[1]:]
}

// BibTeXKey returns the citation key of an entry, the text between the first
// "{" and the following ",".
func BibTeXKey(bibtex string) (string, error) {
	_, rest, ok := strings.Cut(bibtex, "{")
	if !ok {
		return "", fmt.Errorf("bibtex entry has no body")
	}
	key, _, ok := strings.Cut(rest, ",")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", fmt.Errorf("bibtex entry has no key")
	}
	return key, nil
}

// NewCitation builds a Citation from a paper.
func NewCitation(p *scraper.Paper) (Citation, error) {
	if p == nil || p.CitationStyles == nil || strings.TrimSpace(p.CitationStyles.BibTeX) == "" {
		return Citation{}, ErrNoBibTeX
	}
	bibtex := CleanBibTeX(p.CitationStyles.BibTeX)
	key, err := BibTeXKey(bibtex)
	if err != nil {
		return Citation{}, fmt.Errorf("paper %s: %w", p.PaperID, err)
	}
	c := Citation{
		Key:    key,
		BibTeX: bibtex,
		Title:  p.Title,
		Year:   p.Year,
		URL:    p.URL,
	}
	if p.Tldr != nil {
		c.Tldr = p.Tldr.Text
	}
	return c, nil
}

// CitationTransform is a scraper.Transform producing a Citation for papers.
func CitationTransform(_ context.Context, rec scraper.Record) (any, error) {
	p, ok := rec.(*scraper.Paper)
	if !ok {
		return nil, fmt.Errorf("record %s is %T, not a paper", rec.RecordID(), rec)
	}
	return NewCitation(p)
}
