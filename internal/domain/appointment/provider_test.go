package appointment

import (
	"testing"
	"time"
)

func TestDemoProvider_Deterministic(t *testing.T) {
	day := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	first := NewDemoProvider(7).Appointments("centro", day, 12)
	second := NewDemoProvider(7).Appointments("centro", day, 12)

	if len(first) != 12 {
		t.Fatalf("expected 12 appointments, got %d", len(first))
	}
	for i := range first {
		if first[i].PatientName != second[i].PatientName || first[i].Status != second[i].Status {
			t.Fatalf("appointment %d differs between runs with the same seed", i)
		}
	}
}

func TestDemoProvider_Schedule(t *testing.T) {
	day := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	appts := NewDemoProvider(1).Appointments("norte", day, 4)

	for i, a := range appts {
		want := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC).Add(time.Duration(i) * 20 * time.Minute)
		if !a.ScheduledTime.Equal(want) {
			t.Errorf("appointment %d: expected %v, got %v", i, want, a.ScheduledTime)
		}
		if a.ClinicID != "norte" {
			t.Errorf("appointment %d: unexpected clinic %s", i, a.ClinicID)
		}
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			t.Errorf("appointment %d: unexpected status %s", i, a.Status)
		}
		if a.PatientName == "" || a.ServiceName == "" || a.ProfessionalName == "" {
			t.Errorf("appointment %d: missing names %+v", i, a)
		}
	}
}
