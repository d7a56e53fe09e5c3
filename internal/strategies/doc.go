// Package strategies holds the fetch strategies registered with the scraper:
// direct repository downloads (arXiv, PubMed Central, open access links), a
// DOI mirror scraped with colly and a headless publisher page reader.
package strategies
