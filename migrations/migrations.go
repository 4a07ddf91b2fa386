// Package migrations embeds the goose SQL migrations for the pipeline's
// Postgres schema (registry, OCR store, analysis store, crawl-job
// telemetry, subscriptions and webhook deliveries).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Dir is the goose migration directory passed alongside FS.
const Dir = "."
