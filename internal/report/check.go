package report

import (
	"fmt"
	"log/slog"
	"math"
)

// CheckOutcome is the result of a coverage threshold check.
type CheckOutcome int

const (
	// CheckSkipped means the check did not run: the threshold was invalid,
	// or the run produced no report to check. The zero value, so a follower
	// finalization yields a skipped check.
	CheckSkipped CheckOutcome = iota
	// CheckPassed means actual coverage met the desired threshold.
	CheckPassed
	// CheckFailed means actual coverage fell short of the threshold.
	CheckFailed
)

// String returns the outcome name.
func (o CheckOutcome) String() string {
	switch o {
	case CheckPassed:
		return "passed"
	case CheckFailed:
		return "failed"
	case CheckSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// CheckResult carries the outcome of a threshold check and the message to
// surface for it. Failure messages include the full report text so a failing
// run shows the untouched-resource list.
type CheckResult struct {
	Outcome CheckOutcome
	Message string
}

// TestSink receives a failed coverage check as a test failure. *testing.T
// satisfies it, as does any assertion framework with an Errorf entry point.
type TestSink interface {
	Errorf(format string, args ...any)
}

// CheckThreshold verifies actual coverage against the desired percentage.
// Thresholds outside [0, 100] are not an error: the check is skipped with a
// diagnostic so a bad setting never fails a run by itself. A report with
// undefined coverage fails any valid threshold, since NaN compares false.
func (r *Report) CheckThreshold(desired float64) CheckResult {
	if math.IsNaN(desired) || desired < 0 || desired > 100 {
		return CheckResult{
			Outcome: CheckSkipped,
			Message: fmt.Sprintf("desired coverage %v is outside [0, 100]; coverage check skipped", desired),
		}
	}

	if r.percent >= desired {
		return CheckResult{
			Outcome: CheckPassed,
			Message: fmt.Sprintf("resource coverage %s%% meets the desired %.2f%%", r.CoveragePercent, desired),
		}
	}

	return CheckResult{
		Outcome: CheckFailed,
		Message: fmt.Sprintf("expected resource coverage of at least %.2f%%, got %s%%\n\n%s",
			desired, r.CoveragePercent, r.Text),
	}
}

// Emit surfaces the check result. Failures are reported into the sink when
// one is present; without a sink the caller owns the returned result, so the
// failure is not logged here as well. Skips log their diagnostic. A nil sink
// is the supported "no test reporter active" state, never an error.
func (c CheckResult) Emit(sink TestSink) {
	switch c.Outcome {
	case CheckSkipped:
		if c.Message != "" {
			slog.Warn("Coverage check skipped", "reason", c.Message)
		}
	case CheckFailed:
		if sink != nil {
			sink.Errorf("%s", c.Message)
		}
	case CheckPassed:
		slog.Debug("Coverage check passed", "message", c.Message)
	}
}
