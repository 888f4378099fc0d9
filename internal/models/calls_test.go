package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-100-precent/TrunkEcho/pkg/call"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
)

func TestRecordCallPersistsSegments(t *testing.T) {
	db := setupTestDBWithSilentLogger(t, &CallHistory{}, &PTTSegment{})
	rec := NewDBRecorder(db)

	start := time.Now().Add(-30 * time.Second)
	err := rec.RecordCall(call.CompletedCall{
		Class:            call.ClassIndividualOut,
		Priority:         5,
		StartTime:        start,
		Duration:         30 * time.Second,
		CallingPartyName: "console-1",
		CalledPartyName:  "alpha-1",
		PTTHistory: []call.Segment{
			{TxParty: "console-1", StartOffset: 0.5, Duration: 3.2},
			{TxParty: "alpha-1", StartOffset: 4.0, Duration: 2.1},
		},
	})
	require.NoError(t, err)

	got, err := GetCallHistory(db, 1)
	require.NoError(t, err)
	assert.Equal(t, "individual_out", got.Class)
	assert.Equal(t, "alpha-1", got.CalledParty)
	assert.InDelta(t, 30.0, got.DurationSec, 0.01)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, "console-1", got.Segments[0].TxParty)
	assert.InDelta(t, 3.2, got.Segments[0].DurationSec, 0.001)
}

func TestRecordCallClampsOpenSegment(t *testing.T) {
	db := setupTestDBWithSilentLogger(t, &CallHistory{}, &PTTSegment{})
	rec := NewDBRecorder(db)

	err := rec.RecordCall(call.CompletedCall{
		Class:            call.ClassGroupIn,
		CallingPartyName: "alpha-1",
		CalledPartyName:  "tg-9",
		PTTHistory: []call.Segment{
			{TxParty: "alpha-1", StartOffset: 1.0, Duration: -1.0},
		},
	})
	require.NoError(t, err)

	got, err := GetCallHistory(db, 1)
	require.NoError(t, err)
	require.Len(t, got.Segments, 1)
	assert.GreaterOrEqual(t, got.Segments[0].DurationSec, 0.0,
		"an open segment must never be persisted open")
}

func TestRecordFailedCallWithoutStartTime(t *testing.T) {
	db := setupTestDBWithSilentLogger(t, &CallHistory{}, &PTTSegment{})
	rec := NewDBRecorder(db)

	err := rec.RecordCall(call.CompletedCall{
		Class:            call.ClassIndividualOut,
		CallingPartyName: "console-1",
		CalledPartyName:  "alpha-1",
		FailureCause:     signaling.CauseTimeout,
	})
	require.NoError(t, err)

	got, err := GetCallHistory(db, 1)
	require.NoError(t, err)
	assert.Nil(t, got.StartTime, "a call that never connected has no start time")
	assert.Equal(t, CallFailureTimeout, got.Failure)
}

func TestQueryCallHistoriesFilters(t *testing.T) {
	db := setupTestDBWithSilentLogger(t, &CallHistory{}, &PTTSegment{})
	rec := NewDBRecorder(db)

	for _, party := range []string{"alpha-1", "alpha-2", "alpha-1"} {
		require.NoError(t, rec.RecordCall(call.CompletedCall{
			Class:            call.ClassIndividualOut,
			CallingPartyName: "console-1",
			CalledPartyName:  party,
		}))
	}
	require.NoError(t, rec.RecordCall(call.CompletedCall{
		Class:            call.ClassGroupOut,
		CallingPartyName: "console-1",
		CalledPartyName:  "tg-9",
		FailureCause:     signaling.CauseTimeout,
	}))

	records, total, err := QueryCallHistories(db, CallHistoryFilter{Party: "alpha-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, records, 2)

	failure := CallFailureTimeout
	records, total, err = QueryCallHistories(db, CallHistoryFilter{Failure: &failure})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, "group_out", records[0].Class)

	records, _, err = QueryCallHistories(db, CallHistoryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestCleanupCallHistoriesBefore(t *testing.T) {
	db := setupTestDBWithSilentLogger(t, &CallHistory{}, &PTTSegment{})
	rec := NewDBRecorder(db)

	require.NoError(t, rec.RecordCall(call.CompletedCall{
		Class:            call.ClassIndividualOut,
		CallingPartyName: "console-1",
		CalledPartyName:  "alpha-1",
		PTTHistory:       []call.Segment{{TxParty: "console-1", Duration: 1.0}},
	}))

	// backdate the record past the retention window
	old := time.Now().AddDate(0, 0, -120)
	require.NoError(t, db.Model(&CallHistory{}).Where("id = ?", 1).
		Update("created_at", old).Error)

	deleted, err := CleanupCallHistoriesBefore(db, RetentionCutoff(90))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var segments int64
	require.NoError(t, db.Model(&PTTSegment{}).Count(&segments).Error)
	assert.Zero(t, segments, "orphaned segments must be removed with the call")
}
