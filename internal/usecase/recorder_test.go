package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

func TestEventRecorder_Record(t *testing.T) {
	tests := []struct {
		name         string
		failInserts  int
		wantAttempts int
		wantStored   int
	}{
		{name: "first insert succeeds", wantAttempts: 1, wantStored: 1},
		{name: "transient failure is retried", failInserts: 2, wantAttempts: 3, wantStored: 1},
		{name: "persistent failure is dropped", failInserts: 10, wantAttempts: recordAttempts, wantStored: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemEventStore()
			store.failInserts = tt.failInserts
			r := NewEventRecorder(store, zap.NewNop())
			r.delay = time.Millisecond

			r.Record(context.Background(), domain.EventTargetStopped, "gone")

			assert.Equal(t, tt.wantAttempts, store.insertAttempts)
			assert.Len(t, store.all(), tt.wantStored)
		})
	}
}

func TestEventRecorder_RecordsAfterCancel(t *testing.T) {
	store := newMemEventStore()
	r := NewEventRecorder(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, domain.EventTargetStopped, "late")

	assert.Len(t, store.all(), 1)
}
