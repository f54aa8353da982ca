package frames

// MinSpread is the smallest usable span, in seconds, over which timestamps
// are spread evenly. Shorter clips use quarter points instead.
const MinSpread = 1.0

// Plan maps the preferred timestamps onto a video of duration seconds.
// The result has len(defaults) entries, all within [0, duration-margin].
// A non-positive duration means it could not be probed and the fixed
// triple 1, 2, 3 (extended by one second per extra entry) is used.
//
// When only the last default overshoots, the others are kept and the last
// is pinned to duration-margin, but only if the one before it lies strictly
// below that point. If it sits exactly on it (10.5s with 5/10/15) the plan
// is spread evenly instead of returning 10 twice.
func Plan(duration float64, defaults []float64, margin float64) []float64 {
	n := len(defaults)
	if n == 0 {
		return nil
	}
	if duration <= 0 {
		return fallbackPlan(n)
	}

	limit := duration - margin

	if allFit(defaults, limit) {
		return append([]float64(nil), defaults...)
	}

	// keep all but the last and pin the last to the safe end; the kept
	// points must lie strictly before it so no two frames coincide
	if n > 1 && defaults[n-2] < limit && allFit(defaults[:n-1], limit) {
		out := append([]float64(nil), defaults[:n-1]...)
		return append(out, limit)
	}

	if duration-2*margin >= MinSpread {
		return linspace(margin, limit, n)
	}

	safe := max(limit, 0)
	out := make([]float64, n)
	for i := range out {
		out[i] = safe * float64(i+1) / float64(n+1)
	}
	return out
}

func allFit(ts []float64, limit float64) bool {
	for _, t := range ts {
		if t < 0 || t > limit {
			return false
		}
	}
	return true
}

func linspace(lo, hi float64, n int) []float64 {
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + step*float64(i)
	}
	out[n-1] = hi
	return out
}

func fallbackPlan(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}
