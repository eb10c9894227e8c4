// Package preflight checks that the host and configuration can run ragcore
// before any index is opened.
//
// The package validates:
//   - The configuration is valid
//   - The data directory is writable and has free disk space (minimum 100MB)
//   - File descriptor limits (minimum 1024)
//   - No other process holds the data directory lock
//   - No background ingestion was left unfinished
//   - The configured embedder and generator are reachable
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(cfg)
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
