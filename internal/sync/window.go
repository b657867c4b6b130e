package sync

import (
	"time"

	"growlog/internal/models"
)

// ComputeWindow derives the sync bounds for a focus date. Five-day
// mode keeps the outer range tight around the focus with a short
// lookback; full mode spans a symmetric month either side. The focus
// bounds always nest inside the outer bounds.
func ComputeWindow(focus time.Time, fiveDayFocus bool) models.SyncWindow {
	focus = focus.Truncate(24 * time.Hour)

	if fiveDayFocus {
		return models.SyncWindow{
			Start:      focus.AddDate(0, 0, -models.FocusLookbackDays),
			End:        focus.AddDate(0, 0, models.FocusLookaheadDays),
			FocusStart: focus,
			FocusEnd:   focus.AddDate(0, 0, models.FocusSpanDays),
		}
	}

	return models.SyncWindow{
		Start:      focus.AddDate(0, 0, -models.FullWindowDays),
		End:        focus.AddDate(0, 0, models.FullWindowDays),
		FocusStart: focus,
		FocusEnd:   focus.AddDate(0, 0, models.FocusSpanDays),
	}
}
