package scheduling

import (
	"testing"
	"time"
)

func TestValidateOffsetsMatching(t *testing.T) {
	// New York is UTC-5 in February.
	occ := Occurrence{
		StartTime:              time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC),
		EndTime:                time.Date(2026, 2, 2, 16, 0, 0, 0, time.UTC),
		StartTimeOffsetMinutes: -300,
		EndTimeOffsetMinutes:   -300,
		TimeZone:               "America/New_York",
	}
	if err := ValidateOffsets(occ); err != nil {
		t.Fatalf("expected valid offsets, got %v", err)
	}
}

func TestValidateOffsetsMismatch(t *testing.T) {
	occ := Occurrence{
		StartTime:              time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC),
		EndTime:                time.Date(2026, 2, 2, 16, 0, 0, 0, time.UTC),
		StartTimeOffsetMinutes: -240, // wrong: NY is -300 in winter
		EndTimeOffsetMinutes:   -300,
		TimeZone:               "America/New_York",
	}
	if err := ValidateOffsets(occ); err == nil {
		t.Fatal("expected offset mismatch error")
	}
}

func TestValidateOffsetsAcrossDSTBoundary(t *testing.T) {
	// US spring-forward 2026-03-08: a window spanning the transition has a
	// 60-minute offset difference, which is within the 120-minute bound.
	occ := Occurrence{
		StartTime:              time.Date(2026, 3, 8, 6, 30, 0, 0, time.UTC),  // 01:30 EST
		EndTime:                time.Date(2026, 3, 8, 7, 30, 0, 0, time.UTC),  // 03:30 EDT
		StartTimeOffsetMinutes: -300,
		EndTimeOffsetMinutes:   -240,
		TimeZone:               "America/New_York",
	}
	if err := ValidateOffsets(occ); err != nil {
		t.Fatalf("DST-spanning window within bound should pass: %v", err)
	}
}

func TestValidateOffsetsUnknownZone(t *testing.T) {
	occ := Occurrence{
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
		TimeZone:  "Mars/Olympus_Mons",
	}
	if err := ValidateOffsets(occ); err == nil {
		t.Fatal("expected unknown zone error")
	}
}

func TestValidateOffsetsUndeclaredZone(t *testing.T) {
	// A bare UTC window with no declared zone or offsets has nothing to
	// verify and must pass.
	occ := Occurrence{
		StartTime: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC),
	}
	if err := ValidateOffsets(occ); err != nil {
		t.Fatalf("bare occurrence should pass: %v", err)
	}
}

func TestValidateOffsetsDeclaredWithoutZone(t *testing.T) {
	occ := Occurrence{
		StartTime:              time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		EndTime:                time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC),
		StartTimeOffsetMinutes: -300,
		EndTimeOffsetMinutes:   -300,
	}
	if err := ValidateOffsets(occ); err == nil {
		t.Fatal("offsets without a zone cannot be verified and must be rejected")
	}
}
