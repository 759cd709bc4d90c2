package telemetry

import "fmt"

// DefaultDownsampleCap bounds the number of points handed to charts and
// reports.
const DefaultDownsampleCap = 500

// Downsample keeps every stride-th element of s, starting with the first,
// so that at most maxPoints remain. Inputs already within the cap are
// returned unchanged. The last element is not guaranteed to survive.
func Downsample[T any](s []T, maxPoints int) []T {
	if maxPoints <= 0 {
		panic(fmt.Sprintf("telemetry: downsample cap must be positive, got %d", maxPoints))
	}
	if len(s) <= maxPoints {
		return s
	}
	stride := (len(s) + maxPoints - 1) / maxPoints
	out := make([]T, 0, (len(s)+stride-1)/stride)
	for i := 0; i < len(s); i += stride {
		out = append(out, s[i])
	}
	return out
}
