package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Paper is a bibliographic record in the Semantic Scholar graph API shape.
type Paper struct {
	PaperID                  string          `json:"paperId"`
	Title                    string          `json:"title"`
	URL                      string          `json:"url,omitempty"`
	Year                     int             `json:"year,omitempty"`
	ExternalIDs              ExternalIDs     `json:"externalIds,omitempty"`
	OpenAccessPDF            *OpenAccessPDF  `json:"openAccessPdf,omitempty"`
	IsOpenAccess             bool            `json:"isOpenAccess,omitempty"`
	CitationCount            int             `json:"citationCount,omitempty"`
	InfluentialCitationCount int             `json:"influentialCitationCount,omitempty"`
	CitationStyles           *CitationStyles `json:"citationStyles,omitempty"`
	Tldr                     *Tldr           `json:"tldr,omitempty"`
}

// OpenAccessPDF points at a freely available copy of the paper.
type OpenAccessPDF struct {
	URL    string `json:"url"`
	Status string `json:"status,omitempty"`
}

// CitationStyles carries pre-rendered citations.
type CitationStyles struct {
	BibTeX string `json:"bibtex"`
}

// Tldr is the generated one-sentence summary.
type Tldr struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

// ExternalIDs maps a source name (ArXiv, DOI, PubMedCentral, ...) to its id.
// Numeric ids from the API are kept in their literal form.
type ExternalIDs map[string]string

// UnmarshalJSON accepts both string and numeric values.
func (e *ExternalIDs) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*e = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode external ids: %w", err)
	}
	out := make(ExternalIDs, len(raw))
	for key, value := range raw {
		trimmed := bytes.TrimSpace(value)
		switch {
		case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
			continue
		case trimmed[0] == '"':
			var s string
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return fmt.Errorf("decode external id %q: %w", key, err)
			}
			out[key] = s
		default:
			out[key] = string(trimmed)
		}
	}
	*e = out
	return nil
}

// RecordID implements Record.
func (p *Paper) RecordID() string { return p.PaperID }

// RecordTitle implements Record.
func (p *Paper) RecordTitle() string { return p.Title }

// ExternalID implements ExternalIDer.
func (p *Paper) ExternalID(source string) (string, bool) {
	id, ok := p.ExternalIDs[source]
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// OpenAccessURL implements OpenAccessLinker.
func (p *Paper) OpenAccessURL() string {
	if p.OpenAccessPDF == nil {
		return ""
	}
	return p.OpenAccessPDF.URL
}

// LandingURL implements LandingPager.
func (p *Paper) LandingURL() string { return p.URL }
