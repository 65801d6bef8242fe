// Package preflight validates the environment before the answer server
// or an ingestion run starts.
//
// The package checks:
//   - Log directory writability
//   - Disk space below the data directory (minimum 100MB)
//   - API keys required by the process role (serve vs ingest)
//   - Backend reachability: document store, key/value cache, vector index
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithPinger(gateway))
//	results := checker.RunAll(ctx, cfg, preflight.RoleServe)
//	if preflight.HasCriticalFailures(results) {
//	    // Refuse to start
//	}
package preflight
