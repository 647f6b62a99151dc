// Package observe provides telemetry for the sync toolkit.
//
// It bundles OpenTelemetry tracing and metrics with a structured JSON logger
// behind a single Observer, configured once at the composition root and
// passed into each component. Credential-bearing log fields are redacted.
package observe
