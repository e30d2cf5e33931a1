package model

// BatchError records one per-item failure inside a batch run.
type BatchError struct {
	ShortCode string `json:"short_code"`
	Error     string `json:"error"`
}

// BatchReport summarizes one batch classification run. Per-item failures are
// recorded here and never abort the batch.
type BatchReport struct {
	TotalProcessed   int          `json:"total_processed"`
	SafeCount        int          `json:"safe_count"`
	MaliciousCount   int          `json:"malicious_count"`
	ErrorCount       int          `json:"error_count"`
	ProcessingTimeMS float64      `json:"processing_time_ms"`
	Errors           []BatchError `json:"errors,omitempty"`
}

// AddError records a per-item failure and bumps the error counter.
func (r *BatchReport) AddError(shortCode, errText string) {
	r.Errors = append(r.Errors, BatchError{ShortCode: shortCode, Error: errText})
	r.ErrorCount++
}

// SuccessRate returns the share of processed items that did not error, as a
// percentage. Zero when nothing was processed.
func (r *BatchReport) SuccessRate() float64 {
	if r.TotalProcessed == 0 {
		return 0.0
	}
	successful := r.TotalProcessed - r.ErrorCount
	return float64(successful) / float64(r.TotalProcessed) * 100
}
