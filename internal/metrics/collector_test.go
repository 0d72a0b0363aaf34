package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpDBQuery, 10*time.Millisecond)
	c.RecordTiming(OpDBQuery, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.DBQuery)
	assert.Equal(t, int64(2), snap.DBQuery.Count)
	assert.Equal(t, int64(10), snap.DBQuery.MinTimeMs)
	assert.Equal(t, int64(30), snap.DBQuery.MaxTimeMs)
	assert.Equal(t, int64(40), snap.DBQuery.TotalTimeMs)
	assert.Nil(t, snap.LLMStream)
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.RecordCount(OpFeedEvent)
	c.RecordCount(OpFeedEvent)
	c.RecordCount(OpFeedEvent)

	snap := c.Snapshot()
	require.NotNil(t, snap.FeedEvent)
	assert.Equal(t, int64(3), snap.FeedEvent.Count)
	assert.Equal(t, int64(0), snap.FeedEvent.MinTimeMs)
}

func TestCollectorLLMUsage(t *testing.T) {
	c := NewCollector()
	c.RecordLLMUsage(OpLLMStream, 2*time.Second, 120)
	c.RecordLLMUsage(OpLLMStream, 4*time.Second, 80)

	snap := c.Snapshot()
	require.NotNil(t, snap.LLMStream)
	require.NotNil(t, snap.LLMStream.TotalOutputTokens)
	assert.Equal(t, int64(200), *snap.LLMStream.TotalOutputTokens)
	assert.InDelta(t, 100.0, *snap.LLMStream.AvgOutputTokens, 0.001)
}

func TestSnapshotEmpty(t *testing.T) {
	snap := NewCollector().Snapshot()
	assert.Nil(t, snap.DBQuery)
	assert.Nil(t, snap.FeedEvent)
	assert.Nil(t, snap.FunctionCall)
	assert.Nil(t, snap.LLMStream)
}
