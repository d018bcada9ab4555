// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

// Progress checkpoints reported while a request is processing.
const (
	ProgressStarted  = 0.1
	ProgressDecoded  = 0.3
	ProgressRendered = 0.7
	ProgressDone     = 1.0
)

// progressFunc reports a processing checkpoint for the current request.
type progressFunc func(p float64)

// monotonic wraps report so that values never decrease and never repeat.
func monotonic(report func(float64)) progressFunc {
	last := -1.0
	return func(p float64) {
		if p > ProgressDone {
			p = ProgressDone
		}
		if p <= last {
			return
		}
		last = p
		report(p)
	}
}
