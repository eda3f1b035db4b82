package deploy

// TargetResult is the outcome of one target's attempt. CleanupOK records
// whether the transient document was removed; a false value is an operator
// signal, never a user-facing failure.
type TargetResult struct {
	Target    string
	Written   bool
	Success   bool
	Output    string
	Error     string
	CleanupOK bool
}

// Summary aggregates one orchestration run. Callers must inspect the
// per-target results: a run with at least one written target is reported as
// success-with-errors, not as an aggregate failure.
type Summary struct {
	Purpose string
	Results map[string]TargetResult
}

func (s Summary) Succeeded() []string {
	var out []string
	for target, res := range s.Results {
		if res.Success {
			out = append(out, target)
		}
	}
	return out
}

func (s Summary) Failed() []string {
	var out []string
	for target, res := range s.Results {
		if !res.Success {
			out = append(out, target)
		}
	}
	return out
}

// AnySuccess reports whether at least one target deployed.
func (s Summary) AnySuccess() bool {
	for _, res := range s.Results {
		if res.Success {
			return true
		}
	}
	return false
}

// AnyWritten reports whether the write phase completed for at least one
// target. A run where nothing was written is an outright failure rather than
// a partial one.
func (s Summary) AnyWritten() bool {
	for _, res := range s.Results {
		if res.Written {
			return true
		}
	}
	return false
}
