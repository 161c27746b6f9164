package waitingroom

import (
	"sort"
	"time"
)

// Thresholds are the upper bounds, in minutes, of the low and medium bands.
type Thresholds struct {
	MediumAfter int
	HighAfter   int
}

// DefaultThresholds: <=10 low, 11-20 medium, >20 high.
var DefaultThresholds = Thresholds{MediumAfter: 10, HighAfter: 20}

// Classify bands a waiting time. It plays no part in ordering.
func (t Thresholds) Classify(waitingMinutes int) Severity {
	switch {
	case waitingMinutes <= t.MediumAfter:
		return SeverityLow
	case waitingMinutes <= t.HighAfter:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// Classify bands a waiting time with DefaultThresholds.
func Classify(waitingMinutes int) Severity {
	return DefaultThresholds.Classify(waitingMinutes)
}

// Less is the queue order: urgent first, then longest wait, then earliest
// arrival, then appointment id.
func Less(a, b Item) bool {
	if a.Urgent != b.Urgent {
		return a.Urgent
	}
	if a.WaitingMinutes != b.WaitingMinutes {
		return a.WaitingMinutes > b.WaitingMinutes
	}
	if !a.ArrivalTime.Equal(b.ArrivalTime) {
		return a.ArrivalTime.Before(b.ArrivalTime)
	}
	return a.AppointmentID.String() < b.AppointmentID.String()
}

// Order computes waiting times at now and sorts the entries. The input slice
// is not modified.
func Order(entries []Entry, now time.Time, th Thresholds) []Item {
	items := make([]Item, len(entries))
	for i, e := range entries {
		w := e.WaitingMinutes(now)
		items[i] = Item{Entry: e, WaitingMinutes: w, Severity: th.Classify(w)}
	}
	sort.Slice(items, func(i, j int) bool { return Less(items[i], items[j]) })
	return items
}

// ComputeStats summarises an ordered view.
func ComputeStats(items []Item) Stats {
	st := Stats{
		Total: len(items),
		BySeverity: map[Severity]int{
			SeverityLow: 0, SeverityMedium: 0, SeverityHigh: 0,
		},
	}
	if len(items) == 0 {
		return st
	}
	sum := 0
	for _, it := range items {
		if it.Urgent {
			st.Urgent++
		}
		sum += it.WaitingMinutes
		if it.WaitingMinutes > st.LongestWaitMinutes {
			st.LongestWaitMinutes = it.WaitingMinutes
		}
		st.BySeverity[it.Severity]++
	}
	st.AverageWaitMinutes = float64(sum) / float64(len(items))
	return st
}
