package tracker

// Interpolate computes the time position b was passed between the samples
// (p0,t0) and (p1,t1). If wrapped is set, the start/finish line is located
// between both samples.
// The second result is false if no interpolation was possible (no movement).
// In that case t1 is returned.
// The result is always within [t0,t1].
func Interpolate(p0, t0, p1, t1, b float64, wrapped bool) (float64, bool) {
	var dist, travel float64
	if wrapped {
		dist = (1 - p0) + p1
		if b > p0 {
			travel = b - p0
		} else {
			travel = (1 - p0) + b
		}
	} else {
		dist = p1 - p0
		travel = b - p0
	}
	if dist <= 0 {
		return t1, false
	}
	ret := t0 + travel/dist*(t1-t0)
	lo, hi := min(t0, t1), max(t0, t1)
	return min(max(ret, lo), hi), true
}
