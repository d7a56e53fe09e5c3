package strategies

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

// Default repository hosts.
const (
	DefaultArXivBase = "https://arxiv.org"
	DefaultPMCBase   = "https://www.ncbi.nlm.nih.gov"
)

// External id sources as named by Semantic Scholar.
const (
	SourceArXiv = "ArXiv"
	SourcePMC   = "PubMedCentral"
	SourceDOI   = "DOI"
)

// ArXiv downloads <base>/pdf/<id>.pdf for records carrying an ArXiv id.
func ArXiv(base string) scraper.FetchFunc {
	base = strings.TrimRight(base, "/")
	return func(ctx context.Context, rec scraper.Record, dest string, res scraper.Resources) (bool, error) {
		id, ok := externalID(rec, SourceArXiv)
		if !ok {
			return false, nil
		}
		return download(ctx, res.Session, fmt.Sprintf("%s/pdf/%s.pdf", base, id), dest)
	}
}

// PubMedCentral downloads the PMC article PDF for records carrying a
// PubMedCentral id.
func PubMedCentral(base string) scraper.FetchFunc {
	base = strings.TrimRight(base, "/")
	return func(ctx context.Context, rec scraper.Record, dest string, res scraper.Resources) (bool, error) {
		id, ok := externalID(rec, SourcePMC)
		if !ok {
			return false, nil
		}
		id = strings.TrimPrefix(strings.ToUpper(id), "PMC")
		return download(ctx, res.Session, fmt.Sprintf("%s/pmc/articles/PMC%s/pdf/", base, id), dest)
	}
}

// OpenAccess downloads the record's open access link.
func OpenAccess(ctx context.Context, rec scraper.Record, dest string, res scraper.Resources) (bool, error) {
	linker, ok := rec.(scraper.OpenAccessLinker)
	if !ok {
		return false, nil
	}
	url := strings.TrimSpace(linker.OpenAccessURL())
	if url == "" {
		return false, nil
	}
	return download(ctx, res.Session, url, dest)
}
