package booking

// Candidate is a prospective slot interval inside an availability window.
type Candidate struct {
	Start MinuteOfDay
	End   MinuteOfDay
}

// Expand tiles the window into candidate intervals of exactly SlotDuration
// minutes, walking forward from Start. A candidate whose end would pass the
// window's End is dropped entirely rather than clipped, so every candidate
// fits fully inside the window. Candidates come back in ascending start
// order; the materializer's first-occurrence dedup depends on that.
//
// Expand is pure: no I/O, same output for the same window every call.
func (a *Availability) Expand() []Candidate {
	if a.SlotDuration <= 0 || a.Start >= a.End {
		return nil
	}

	step := MinuteOfDay(a.SlotDuration)
	var out []Candidate
	for cur := a.Start; cur+step <= a.End; cur += step {
		out = append(out, Candidate{Start: cur, End: cur + step})
	}
	return out
}
