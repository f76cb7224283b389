package model

// ExecutionResult is what the action router reports for a resolved item.
// Exactly one of Success, Error or Skipped carries the outcome.
type ExecutionResult struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Skipped string         `json:"skipped,omitempty"`
}

func Succeeded(result map[string]any) ExecutionResult {
	return ExecutionResult{Success: true, Result: result}
}

func Failed(err error) ExecutionResult {
	return ExecutionResult{Success: false, Error: err.Error()}
}

func Skipped(reason string) ExecutionResult {
	return ExecutionResult{Skipped: reason}
}
