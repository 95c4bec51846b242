package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeouts_Resolved(t *testing.T) {
	assert.Equal(t, DefaultTimeouts(), Timeouts{}.Resolved())

	custom := Timeouts{Query: time.Second, Bulk: time.Minute}.Resolved()
	assert.Equal(t, time.Second, custom.Query)
	assert.Equal(t, DefaultWriteTimeout, custom.Write)
	assert.Equal(t, time.Minute, custom.Bulk)
}

func TestTimeouts_Deadlines(t *testing.T) {
	timeouts := Timeouts{Query: time.Second, Write: 2 * time.Second, Bulk: 3 * time.Second}

	tests := []struct {
		name  string
		scope func(context.Context) (context.Context, context.CancelFunc)
		want  time.Duration
	}{
		{"query", timeouts.ForQuery, time.Second},
		{"write", timeouts.ForWrite, 2 * time.Second},
		{"bulk", timeouts.ForBulk, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			ctx, cancel := tt.scope(context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			assert.WithinDuration(t, start.Add(tt.want), deadline, 100*time.Millisecond)
		})
	}
}

func TestTimeouts_ParentDeadlineWins(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ctx, cancelBulk := DefaultTimeouts().ForBulk(parent)
	defer cancelBulk()

	pd, _ := parent.Deadline()
	d, _ := ctx.Deadline()
	assert.Equal(t, pd, d)
}
