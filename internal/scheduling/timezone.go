package scheduling

import (
	"fmt"
	"time"
)

// maxOffsetDiscontinuityMinutes bounds how far apart the start and end
// offsets of a single window may drift. Windows crossing more than a
// two-hour DST or zone discontinuity are rejected.
const maxOffsetDiscontinuityMinutes = 120

// ValidateOffsets checks that the caller-supplied UTC offsets match the
// server-derived offsets for the declared timezone at both instants. This
// protects against client/server clock-zone mismatches silently shifting a
// booking. Occurrences that declare no zone and no offsets carry nothing
// to verify and pass.
func ValidateOffsets(occ Occurrence) error {
	if occ.TimeZone == "" {
		if occ.StartTimeOffsetMinutes != 0 || occ.EndTimeOffsetMinutes != 0 {
			return fmt.Errorf("time_zone is required when offsets are supplied")
		}
		return nil
	}
	loc, err := time.LoadLocation(occ.TimeZone)
	if err != nil {
		return fmt.Errorf("unknown time zone %q", occ.TimeZone)
	}

	_, startOffset := occ.StartTime.In(loc).Zone()
	_, endOffset := occ.EndTime.In(loc).Zone()
	startOffsetMin := startOffset / 60
	endOffsetMin := endOffset / 60

	if occ.StartTimeOffsetMinutes != startOffsetMin {
		return fmt.Errorf("start offset %d does not match %s offset %d at %s",
			occ.StartTimeOffsetMinutes, occ.TimeZone, startOffsetMin, occ.StartTime.Format(time.RFC3339))
	}
	if occ.EndTimeOffsetMinutes != endOffsetMin {
		return fmt.Errorf("end offset %d does not match %s offset %d at %s",
			occ.EndTimeOffsetMinutes, occ.TimeZone, endOffsetMin, occ.EndTime.Format(time.RFC3339))
	}

	diff := occ.StartTimeOffsetMinutes - occ.EndTimeOffsetMinutes
	if diff < 0 {
		diff = -diff
	}
	if diff > maxOffsetDiscontinuityMinutes {
		return fmt.Errorf("window crosses a %d-minute offset discontinuity (max %d)", diff, maxOffsetDiscontinuityMinutes)
	}
	return nil
}
