// Package progress turns scrape lifecycle callbacks into events, batches them
// on a background goroutine and fans them out to sinks such as Prometheus,
// structured logs or the attempt store. Emitting never blocks the scraper.
package progress
