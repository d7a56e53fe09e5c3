// Package scraper implements the fallback engine that fetches a full-text
// artifact for a bibliographic record. Strategies are registered with a
// priority; equal priorities form a tier whose call order is rotated per
// record so concurrent records spread their traffic across sources. A record
// is tried tier by tier until one strategy writes an artifact that passes
// validation. BatchScrape runs many records concurrently in bounded windows.
package scraper
