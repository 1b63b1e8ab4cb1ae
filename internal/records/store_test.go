package records

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/biblioteca/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewStore(d)
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	saved, err := s.SaveProfile(ctx, Profile{
		Alias:           "Lector 7",
		AgeBracket:      "8-10",
		LiteracyLevel:   "silábico",
		SchoolingStatus: "escolarizado",
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	got, err := s.Profile(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lector 7", got.Alias)
	assert.Equal(t, "silábico", got.LiteracyLevel)

	saved.LiteracyLevel = "alfabético"
	_, err = s.SaveProfile(ctx, *saved)
	require.NoError(t, err)
	got, err = s.Profile(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "alfabético", got.LiteracyLevel)
}

func TestProfileValidationAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveProfile(ctx, Profile{Alias: "  "})
	assert.Error(t, err)

	_, err = s.Profile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.SaveProfile(ctx, Profile{Alias: "Lectora 3"})
	require.NoError(t, err)

	start := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		sess, err := s.SaveSession(ctx, Session{
			ProfileID:       p.ID,
			Date:            start.AddDate(0, 0, 7*i),
			DurationMinutes: 45,
			Scores:          map[string]int{"fluidez": 50 + i},
			Notes:           fmt.Sprintf("sesión %d", i),
		})
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	got, err := s.Recent(ctx, p.ID, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "sesión 4", got[0].Notes)
	assert.Equal(t, "sesión 2", got[2].Notes)
	assert.Equal(t, 54, got[0].Scores["fluidez"])
	assert.True(t, got[0].Date.Equal(start.AddDate(0, 0, 28)))

	got, err = s.Recent(ctx, p.ID, 10, []string{ids[0], ids[3]})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[3], got[0].ID)
	assert.Equal(t, ids[0], got[1].ID)

	got, err = s.Recent(ctx, "other", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveSessionRequiresExistingProfile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SaveSession(context.Background(), Session{ProfileID: "ghost", Date: time.Now()})
	assert.Error(t, err)

	_, err = s.SaveSession(context.Background(), Session{ProfileID: "ghost"})
	assert.Error(t, err)
}
