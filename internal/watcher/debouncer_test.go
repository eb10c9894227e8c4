package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_SingleEventPassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	// When: one event is added
	d.Add(FileEvent{Path: "notes.txt", Operation: OpCreate, Timestamp: time.Now()})

	// Then: it is emitted alone after the window
	batch := receive(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "notes.txt", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncer_CoalescesPerPath(t *testing.T) {
	// Given: a debouncer
	d := NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	// When: a burst touches several paths
	d.Add(FileEvent{Path: "b.md", Operation: OpCreate})
	d.Add(FileEvent{Path: "b.md", Operation: OpModify})
	d.Add(FileEvent{Path: "a.txt", Operation: OpModify})
	d.Add(FileEvent{Path: "a.txt", Operation: OpModify})
	d.Add(FileEvent{Path: "gone.txt", Operation: OpCreate})
	d.Add(FileEvent{Path: "gone.txt", Operation: OpDelete})

	// Then: one event per surviving path, sorted by path
	batch := receive(t, d)
	require.Len(t, batch, 2)
	assert.Equal(t, "a.txt", batch[0].Path)
	assert.Equal(t, OpModify, batch[0].Operation)
	assert.Equal(t, "b.md", batch[1].Path)
	assert.Equal(t, OpCreate, batch[1].Operation)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		prev     Operation
		next     Operation
		want     Operation
		wantKeep bool
	}{
		{"create then modify", OpCreate, OpModify, OpCreate, true},
		{"create then delete", OpCreate, OpDelete, 0, false},
		{"modify then delete", OpModify, OpDelete, OpDelete, true},
		{"delete then create", OpDelete, OpCreate, OpModify, true},
		{"modify then modify", OpModify, OpModify, OpModify, true},
		{"delete then modify", OpDelete, OpModify, OpModify, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := merge(tt.prev, tt.next)
			assert.Equal(t, tt.wantKeep, keep)
			if keep {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDebouncer_CancelledBurstEmitsNothing(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "tmp.txt", Operation: OpCreate})
	d.Add(FileEvent{Path: "tmp.txt", Operation: OpDelete})

	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch: %v", batch)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	// Given: a debouncer with a pending event
	d := NewDebouncer(time.Hour)
	d.Add(FileEvent{Path: "a.txt", Operation: OpModify})

	// When: stopped twice
	d.Stop()
	d.Stop()

	// Then: output is closed without the pending event, and Add is a no-op
	_, ok := <-d.Output()
	assert.False(t, ok)
	d.Add(FileEvent{Path: "b.txt", Operation: OpModify})
}
