package freshness

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/casefile/internal/models"
)

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCheck_FreshAndNew(t *testing.T) {
	cached := []models.EntityStamp{{ID: "X", LastModified: at("10:00")}}
	remote := []models.EntityStamp{
		{ID: "X", LastModified: at("10:00")},
		{ID: "Y", LastModified: at("11:00")},
	}

	res := Check(cached, remote)

	assert.Equal(t, []string{"X"}, res.Fresh)
	assert.Equal(t, []string{"Y"}, res.New)
	assert.Empty(t, res.Stale)
	assert.Empty(t, res.Deleted)
}

func TestCheck_Deleted(t *testing.T) {
	cached := []models.EntityStamp{
		{ID: "A", LastModified: at("09:00")},
		{ID: "B", LastModified: at("09:00")},
	}
	remote := []models.EntityStamp{{ID: "A", LastModified: at("09:00")}}

	res := Check(cached, remote)

	assert.Equal(t, []string{"A"}, res.Fresh)
	assert.Equal(t, []string{"B"}, res.Deleted)
}

func TestCheck_StaleUsesTimeComparison(t *testing.T) {
	// Same instant, different zones: must be fresh even though the strings differ.
	utc := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tokyo := utc.In(time.FixedZone("JST", 9*3600))
	cached := []models.EntityStamp{{ID: "same", LastModified: utc}, {ID: "newer", LastModified: utc}}
	remote := []models.EntityStamp{
		{ID: "same", LastModified: tokyo},
		{ID: "newer", LastModified: tokyo.Add(time.Second)},
	}

	res := Check(cached, remote)

	assert.Equal(t, []string{"same"}, res.Fresh)
	assert.Equal(t, []string{"newer"}, res.Stale)
}

func TestCheck_OlderRemoteIsFresh(t *testing.T) {
	cached := []models.EntityStamp{{ID: "A", LastModified: at("12:00")}}
	remote := []models.EntityStamp{{ID: "A", LastModified: at("11:00")}}

	res := Check(cached, remote)
	assert.Equal(t, []string{"A"}, res.Fresh)
}

func TestCheck_PartitionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	for round := 0; round < 200; round++ {
		var cached, remote []models.EntityStamp
		for _, id := range ids {
			if rng.Intn(2) == 0 {
				cached = append(cached, models.EntityStamp{ID: id, LastModified: at("10:00").Add(time.Duration(rng.Intn(3)) * time.Hour)})
			}
			if rng.Intn(2) == 0 {
				remote = append(remote, models.EntityStamp{ID: id, LastModified: at("10:00").Add(time.Duration(rng.Intn(3)) * time.Hour)})
			}
		}

		res := Check(cached, remote)

		seen := map[string]int{}
		for _, list := range [][]string{res.Fresh, res.Stale, res.New, res.Deleted} {
			for _, id := range list {
				seen[id]++
			}
		}
		union := map[string]struct{}{}
		for _, s := range cached {
			union[s.ID] = struct{}{}
		}
		for _, s := range remote {
			union[s.ID] = struct{}{}
		}
		require.Len(t, seen, len(union), "round %d: sets must cover the union", round)
		for id, n := range seen {
			require.Equal(t, 1, n, "round %d: id %s in %d sets", round, id, n)
		}

		cachedIDs := map[string]struct{}{}
		for _, s := range cached {
			cachedIDs[s.ID] = struct{}{}
		}
		for _, id := range res.New {
			_, inCache := cachedIDs[id]
			require.False(t, inCache, "new id %s must be remote-only", id)
		}
	}
}

type stubStamps struct {
	stamps []models.EntityStamp
	err    error
}

func (s stubStamps) GetEntityTimestamps(models.EntityType) ([]models.EntityStamp, error) {
	return s.stamps, s.err
}

func TestChecker_UsesCacheStamps(t *testing.T) {
	c := NewChecker(stubStamps{stamps: []models.EntityStamp{{ID: "X", LastModified: at("10:00")}}})

	res, err := c.CheckFreshness(models.EntityToken, []models.EntityStamp{{ID: "X", LastModified: at("10:30")}})
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, res.Stale)
	assert.Equal(t, []string{"X"}, res.NeedsFetch())
}

func TestChecker_PropagatesCacheError(t *testing.T) {
	c := NewChecker(stubStamps{err: errors.New("database disk image is malformed")})

	_, err := c.CheckFreshness(models.EntityToken, nil)
	require.Error(t, err)
}
