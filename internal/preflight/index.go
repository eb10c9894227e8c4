package preflight

import (
	"github.com/Aman-CERP/ragcore/internal/async"
	"github.com/Aman-CERP/ragcore/internal/errors"
	"github.com/Aman-CERP/ragcore/internal/pipeline"
)

// CheckIndexLock reports whether another process holds the data directory.
// A held lock is expected while serve, watch or mcp runs, so it only warns.
func (c *Checker) CheckIndexLock(dataDir string) CheckResult {
	result := CheckResult{Name: "index_lock"}

	lock := pipeline.NewDirLock(dataDir)
	if err := lock.TryLock(); err != nil {
		result.Status = StatusWarn
		if errors.GetCode(err) == errors.ErrCodeDataDirLocked {
			result.Message = "in use by another ragcore process"
		} else {
			result.Message = err.Error()
		}
		result.Details = lock.Path()
		return result
	}
	_ = lock.Unlock()

	result.Status = StatusPass
	result.Message = "free"
	return result
}

// CheckIngestState warns about a background ingestion that never finished.
func (c *Checker) CheckIngestState(dataDir string) CheckResult {
	result := CheckResult{Name: "ingest_state"}

	if async.HasIncompleteIngest(dataDir) {
		result.Status = StatusWarn
		result.Message = "a background ingestion was interrupted"
		result.Details = "Run 'ragcore ingest' again; chunks already stored are skipped"
		return result
	}

	result.Status = StatusPass
	result.Message = "OK"
	return result
}
