package models

const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Care task types known to the scheduler. Callers may pass others;
// these are the ones the surrounding app creates.
const (
	TaskTypeWatering  = "watering"
	TaskTypeFeeding   = "feeding"
	TaskTypePruning   = "pruning"
	TaskTypeRepotting = "repotting"
	TaskTypeHarvest   = "harvest"
)

// Entity kinds tracked by the change tracker and the remote target.
const (
	KindTask     = "task"
	KindReminder = "reminder"
	KindPlant    = "plant"
)

// Change operations recorded by the tracker.
const (
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

const (
	// DefaultBatchSize tasks per store transaction chunk.
	DefaultBatchSize = 50

	// DefaultMaxRetries attempts after the first failure of a batch.
	DefaultMaxRetries = 3

	// Focus window geometry (days). Five-day-focus mode syncs
	// [focus-Lookback, focus+Lookahead] with an inner range of
	// FocusSpan days; full mode uses +/- FullWindow.
	FocusLookbackDays  = 7
	FocusLookaheadDays = 14
	FocusSpanDays      = 4
	FullWindowDays     = 30

	// ExtendedHorizonDays bounds rescheduling of recurring tasks on
	// completion: the next occurrence is only scheduled when it falls
	// within this many days of the focus date.
	ExtendedHorizonDays = FocusLookaheadDays

	// DefaultRemoteTTL seconds a simulated remote snapshot lives in redis.
	DefaultRemoteTTL = 7 * 24 * 60 * 60
)
