package quota

import "time"

// ResourceKind is the billable execution class a reservation counts against.
type ResourceKind string

const (
	KindBrowser ResourceKind = "browser"
	KindLoad    ResourceKind = "load"
	KindCheck   ResourceKind = "check"
)

func Kinds() []ResourceKind {
	return []ResourceKind{KindBrowser, KindLoad, KindCheck}
}

// EstimateMinutes rounds a duration up to whole minutes, so a 1-second
// execution never bills as zero.
func EstimateMinutes(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	return (ms + 59999) / 60000
}

// EstimateLoadMinutes is the VU-minute estimate for a load test:
// ceil(virtualUsers x durationMinutes).
func EstimateLoadMinutes(virtualUsers int, d time.Duration) int64 {
	if virtualUsers <= 0 || d <= 0 {
		return 0
	}
	ms := int64(virtualUsers) * d.Milliseconds()
	return (ms + 59999) / 60000
}
