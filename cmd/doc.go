// Package cmd implements the paperscraper command line.
//
// Commands:
//   - fetch: batch-scrape papers listed in a JSON file.
//   - search: query Semantic Scholar, fetch every hit and print citations.
//   - serve: run the HTTP API until SIGINT or SIGTERM.
//
// Every command loads configuration from --config and PAPERSCRAPER_* variables,
// builds the application services before running and closes them afterwards.
package cmd
