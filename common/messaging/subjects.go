package messaging

// Subject constants for the activity message bus.
// Follow the pattern: {domain}.{resource}.{action}
const (
	// SubjectActivityEventsRecorded carries every persisted activity event.
	SubjectActivityEventsRecorded = "activity.events.recorded"

	// Impersonation lifecycle, published alongside the activity event.
	SubjectImpersonationStarted = "activity.impersonation.started"
	SubjectImpersonationEnded   = "activity.impersonation.ended"
)

// Header keys set on published activity messages.
const (
	HeaderEventID      = "Activity-Event-Id"
	HeaderActivityType = "Activity-Type"
	HeaderSignature    = "Activity-Signature"
)

// ActivityTypeSubject returns a per-type subject so consumers can filter.
// Example: activity.events.recorded.login
func ActivityTypeSubject(activityType string) string {
	return SubjectActivityEventsRecorded + "." + activityType
}
