package messaging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectConstants_FollowNamingConvention(t *testing.T) {
	subjects := []string{
		SubjectActivityEventsRecorded,
		SubjectImpersonationStarted,
		SubjectImpersonationEnded,
	}

	for _, subject := range subjects {
		parts := strings.Split(subject, ".")
		assert.Len(t, parts, 3, "subject %q should have 3 parts", subject)
		assert.Equal(t, "activity", parts[0])
		for _, part := range parts {
			assert.NotEmpty(t, part, "subject %q has empty part", subject)
		}
	}
}

func TestActivityTypeSubject(t *testing.T) {
	assert.Equal(t, "activity.events.recorded.login", ActivityTypeSubject("login"))
	assert.True(t, strings.HasPrefix(ActivityTypeSubject("impersonation_start"), SubjectActivityEventsRecorded+"."))
}
