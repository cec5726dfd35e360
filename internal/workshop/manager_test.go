package workshop

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessler/caseboard/internal/logging"
	"github.com/mkessler/caseboard/internal/models"
	"github.com/mkessler/caseboard/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.Store) {
	t.Helper()
	blobs, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })
	return NewManager(blobs, logging.Nop()), blobs
}

func TestStartFreshSession(t *testing.T) {
	m, _ := newTestManager(t)

	sess, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	assert.Equal(t, models.WorkshopActive, sess.Status)
	assert.Equal(t, models.WorkshopStats{}, sess.Stats)
	assert.False(t, sess.Recovered)
	assert.NotEmpty(t, sess.ID)
	assert.Same(t, sess, m.Active("eng-1"))
}

func TestRecordStatRequiresActiveSession(t *testing.T) {
	m, _ := newTestManager(t)

	// No active session: silently ignored, never an error.
	m.RecordStat("eng-1", models.StatNewItems, 1)

	sess, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)

	m.RecordStat("eng-1", models.StatNewItems, 3)
	m.RecordStat("eng-1", models.StatGapsFlagged, 1)
	m.RecordStat("eng-1", models.StatNewItems, -2) // never decreases
	assert.Equal(t, 3, sess.Stats.NewItems)
	assert.Equal(t, 1, sess.Stats.GapsFlagged)

	require.NoError(t, m.End("eng-1"))
	m.RecordStat("eng-1", models.StatNewItems, 5)
	assert.Equal(t, 3, sess.Stats.NewItems)
}

func TestEndStampsAndPersistsSummary(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	m.RecordStat("eng-1", models.StatNewItems, 3)

	require.NoError(t, m.End("eng-1"))
	assert.Nil(t, m.Active("eng-1"))

	history, err := m.History("eng-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "PA-05", history[0].TopicID)
	assert.Equal(t, 3, history[0].Stats.NewItems)
	assert.False(t, history[0].EndedAt.IsZero())

	// Ending again is a no-op.
	require.NoError(t, m.End("eng-1"))
	history, err = m.History("eng-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestResumeRestoresStats(t *testing.T) {
	m, _ := newTestManager(t)

	first, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	m.RecordStat("eng-1", models.StatNewItems, 3)
	m.RecordStat("eng-1", models.StatPlacedNodes, 2)
	require.NoError(t, m.End("eng-1"))

	resumed, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1", Resume: true})
	require.NoError(t, err)
	assert.Equal(t, first.ID, resumed.ID)
	assert.Equal(t, models.WorkshopActive, resumed.Status)
	assert.Nil(t, resumed.EndedAt)
	assert.Equal(t, 3, resumed.Stats.NewItems)
	assert.Equal(t, 2, resumed.Stats.PlacedNodes)
	assert.False(t, resumed.Recovered)
}

func TestFreshStartArchivesPriorState(t *testing.T) {
	m, _ := newTestManager(t)

	first, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	m.RecordStat("eng-1", models.StatNewItems, 7)
	require.NoError(t, m.End("eng-1"))

	before, err := m.History("eng-1")
	require.NoError(t, err)

	fresh, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID)
	assert.Equal(t, models.WorkshopStats{}, fresh.Stats)

	after, err := m.History("eng-1")
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)
}

func TestStartEndsPreviousSessionForEngagement(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	m.RecordStat("eng-1", models.StatNewNodes, 2)

	second, err := m.Start("DM-02", "Data model", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	assert.Same(t, second, m.Active("eng-1"))

	// The displaced session was ended, not dropped.
	history, err := m.History("eng-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "PA-05", history[0].TopicID)
	assert.Equal(t, 2, history[0].Stats.NewNodes)
}

func TestEngagementsAreIsolated(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	_, err = m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-2"})
	require.NoError(t, err)

	assert.NotNil(t, m.Active("eng-1"))
	assert.NotNil(t, m.Active("eng-2"))

	require.NoError(t, m.End("eng-1"))
	assert.Nil(t, m.Active("eng-1"))
	assert.NotNil(t, m.Active("eng-2"))
}

func TestResumeCorruptStateFallsBackFresh(t *testing.T) {
	m, blobs := newTestManager(t)

	_, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	m.RecordStat("eng-1", models.StatNewItems, 4)
	require.NoError(t, m.End("eng-1"))

	require.NoError(t, blobs.Set("workshop_state", "eng-1:PA-05", []byte("{not json")))

	resumed, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1", Resume: true})
	require.NoError(t, err)
	assert.True(t, resumed.Recovered)
	assert.Equal(t, models.WorkshopStats{}, resumed.Stats)
}

func TestResumeWithNothingPersistedStartsFresh(t *testing.T) {
	m, _ := newTestManager(t)

	sess, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1", Resume: true})
	require.NoError(t, err)
	assert.False(t, sess.Recovered)
	assert.Equal(t, models.WorkshopStats{}, sess.Stats)
}

func TestHistoryMostRecentFirst(t *testing.T) {
	m, _ := newTestManager(t)

	for _, topic := range []string{"PA-05", "DM-02", "RX-09"} {
		_, err := m.Start(topic, topic, StartOptions{EngagementID: "eng-1"})
		require.NoError(t, err)
		require.NoError(t, m.End("eng-1"))
	}

	history, err := m.History("eng-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "RX-09", history[0].TopicID)
	assert.Equal(t, "PA-05", history[2].TopicID)
}

func TestHistorySurvivesManagerRestart(t *testing.T) {
	m, blobs := newTestManager(t)

	_, err := m.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1"})
	require.NoError(t, err)
	m.RecordStat("eng-1", models.StatGapsFlagged, 2)
	require.NoError(t, m.End("eng-1"))

	// A new manager over the same store sees both history and the
	// resumable working state.
	m2 := NewManager(blobs, logging.Nop())
	history, err := m2.History("eng-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].Stats.GapsFlagged)

	resumed, err := m2.Start("PA-05", "Process architecture", StartOptions{EngagementID: "eng-1", Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.Stats.GapsFlagged)
}
