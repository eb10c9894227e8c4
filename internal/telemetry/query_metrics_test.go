package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_KeepsInsertionOrder(t *testing.T) {
	buf := NewCircularBuffer[string](10)

	buf.Add("query1")
	buf.Add("query2")
	buf.Add("query3")

	assert.Equal(t, []string{"query1", "query2", "query3"}, buf.Items())
	assert.Equal(t, 3, buf.Size())
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	// Given: a buffer of capacity 3
	buf := NewCircularBuffer[string](3)

	// When: five items are added
	for i := 1; i <= 5; i++ {
		buf.Add(fmt.Sprintf("query%d", i))
	}

	// Then: only the newest three remain, oldest first
	assert.Equal(t, []string{"query3", "query4", "query5"}, buf.Items())
	assert.Equal(t, 3, buf.Size())
}

func TestCircularBuffer_EmptyItemsNotNil(t *testing.T) {
	buf := NewCircularBuffer[int](0)

	items := buf.Items()
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestClassifyAlpha(t *testing.T) {
	tests := []struct {
		alpha float64
		want  QueryType
	}{
		{0, QueryTypeLexical},
		{0.3, QueryTypeMixed},
		{0.5, QueryTypeMixed},
		{1, QueryTypeSemantic},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.alpha), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyAlpha(tt.alpha))
		})
	}
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{250 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, LatencyToBucket(tt.latency))
		})
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"attention", "transformer"}, ExtractTerms("  Attention is a Transformer "))
	assert.Nil(t, ExtractTerms(""))
	assert.Nil(t, ExtractTerms("a an to"))
}

func TestQueryMetrics_RecordAndSnapshot(t *testing.T) {
	// Given: a collector
	m := NewQueryMetrics(QueryMetricsConfig{})

	// When: recording a mix of queries
	m.Record(QueryEvent{Query: "attention transformer", QueryType: QueryTypeMixed, ResultCount: 3, Latency: 5 * time.Millisecond})
	m.Record(QueryEvent{Query: "attention", QueryType: QueryTypeLexical, ResultCount: 0, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "Attention ", QueryType: QueryTypeLexical, ResultCount: 1, Latency: 20 * time.Millisecond})

	// Then: the snapshot reflects all of them
	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(2), snap.QueryTypeCounts[QueryTypeLexical])
	assert.Equal(t, int64(1), snap.QueryTypeCounts[QueryTypeMixed])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(2), snap.LatencyDistribution[BucketP50])

	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, TermCount{Term: "attention", Count: 3}, snap.TopTerms[0])

	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"attention"}, snap.ZeroResultQueries)
	assert.InDelta(t, 33.33, snap.ZeroResultPercentage(), 0.01)

	// "attention" and "Attention " normalize to the same query
	assert.Equal(t, int64(1), snap.ExactRepeatCount)
}

func TestQueryMetrics_TopTermsBounded(t *testing.T) {
	m := NewQueryMetrics(QueryMetricsConfig{TopTermsCapacity: 2})

	m.Record(QueryEvent{Query: "alpha", ResultCount: 1})
	m.Record(QueryEvent{Query: "bravo", ResultCount: 1})
	m.Record(QueryEvent{Query: "charlie", ResultCount: 1})

	snap := m.Snapshot()
	assert.Len(t, snap.TopTerms, 2)
}

func TestQueryMetrics_NilIsNoop(t *testing.T) {
	var m *QueryMetrics

	assert.NotPanics(t, func() {
		m.Record(QueryEvent{Query: "x"})
	})
	assert.Equal(t, int64(0), m.Snapshot().TotalQueries)
	assert.Equal(t, 0.0, (&QueryMetricsSnapshot{}).ZeroResultPercentage())
}

func TestQueryMetrics_ConcurrentRecord(t *testing.T) {
	m := NewQueryMetrics(DefaultQueryMetricsConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Record(QueryEvent{Query: fmt.Sprintf("query %d", i), ResultCount: i % 2})
		}(i)
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(50), snap.TotalQueries)
	assert.Equal(t, int64(25), snap.ZeroResultCount)
}
