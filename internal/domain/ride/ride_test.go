package ride

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		status      Status
		canPublish  bool
		canCancel   bool
		canComplete bool
	}{
		{StatusDraft, true, true, false},
		{StatusPublished, false, true, true},
		{StatusCancelled, false, false, false},
		{StatusCompleted, false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			r := &Ride{Status: tt.status}
			assert.Equal(t, tt.canPublish, r.CanPublish())
			assert.Equal(t, tt.canCancel, r.CanCancel())
			assert.Equal(t, tt.canComplete, r.CanComplete())
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusDraft.IsTerminal())
	assert.False(t, StatusPublished.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
}

func TestStartSortKey_OrdersByStartThenID(t *testing.T) {
	early := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	late := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	assert.Less(t, StartSortKey(early, id), StartSortKey(late, id))

	// Same instant falls back to ride id ordering
	other := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	assert.Less(t, StartSortKey(early, id), StartSortKey(early, other))
}
