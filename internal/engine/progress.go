package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yourorg/erp-loader/internal/types"
)

// Calculating is shown while the speed is not yet measurable.
const Calculating = "calculating..."

// Estimate computes records/second and the remaining time. ok is false when
// nothing can be measured yet (no elapsed time or nothing processed).
func Estimate(processed, total int, elapsed time.Duration) (speed float64, remaining time.Duration, ok bool) {
	secs := elapsed.Seconds()
	if secs <= 0 || processed <= 0 {
		return 0, 0, false
	}
	speed = float64(processed) / secs
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return 0, 0, false
	}
	left := total - processed
	if left < 0 {
		left = 0
	}
	eta := float64(left) / speed
	if math.IsNaN(eta) || math.IsInf(eta, 0) {
		return speed, 0, false
	}
	return speed, time.Duration(eta * float64(time.Second)), true
}

// FormatRemaining renders a duration in seconds, minutes or hours.
func FormatRemaining(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs < 60:
		n := int(math.Ceil(secs))
		return plural(n, "second")
	case secs < 3600:
		n := int(math.Round(secs / 60))
		return plural(n, "minute")
	default:
		return fmt.Sprintf("%.1f hours", secs/3600)
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// applyEstimate fills the timing fields of p.
func applyEstimate(p *types.ProgressState, elapsed time.Duration) {
	speed, remaining, ok := Estimate(p.ProcessedEntries, p.TotalEntries, elapsed)
	p.ProcessingSpeed = speed
	if !ok {
		p.Calculating = true
		p.Remaining = 0
		p.EstimatedTimeRemaining = Calculating
		return
	}
	p.Calculating = false
	p.Remaining = remaining
	p.EstimatedTimeRemaining = FormatRemaining(remaining)
}

func processingStatus(batch, total, processed, records int) string {
	return fmt.Sprintf("Processing batch %d of %d (%s/%s records)",
		batch+1, total, humanize.Comma(int64(processed)), humanize.Comma(int64(records)))
}

func finalStatus(r *types.ResultAggregate) string {
	if r.Cancelled {
		return fmt.Sprintf("Cancelled after %s of %s records (%s succeeded, %s failed)",
			humanize.Comma(int64(r.ProcessedCount)), humanize.Comma(int64(r.TotalRecords)),
			humanize.Comma(int64(r.SuccessCount)), humanize.Comma(int64(r.FailureCount)))
	}
	return fmt.Sprintf("Completed: %s succeeded, %s failed",
		humanize.Comma(int64(r.SuccessCount)), humanize.Comma(int64(r.FailureCount)))
}
