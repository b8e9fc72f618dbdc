// Package ingest turns a finished scrape dataset into stored profile and
// post rows, moving their images into owned storage on the way.
//
// Ingest reports every expected failure through models.IngestResult. Post
// write failures after a successful profile upsert are partial successes.
package ingest
