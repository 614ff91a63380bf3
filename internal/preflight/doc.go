// Package preflight validates the local environment before indexing work
// starts: disk space and write access for the data directory, file
// descriptor headroom for directory watching, and reachability of the
// embedding and rerank services.
//
// Checks are either required (a failure blocks indexing) or advisory
// (ingestion can proceed degraded, e.g. with the static embedder).
package preflight
