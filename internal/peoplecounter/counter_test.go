package peoplecounter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/peoplecounter/internal/detect"
	"github.com/technosupport/peoplecounter/internal/identity"
	"github.com/technosupport/peoplecounter/internal/kv"
	"github.com/technosupport/peoplecounter/internal/staffvote"
	"github.com/technosupport/peoplecounter/internal/zonecounter"
)

func square() zonecounter.Zone {
	return zonecounter.Zone{
		ZoneID:         "z1",
		Name:           "entrance",
		Type:           zonecounter.ZoneTypePolygon,
		Points:         []zonecounter.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
		EnterThreshold: 1,
		ExitThreshold:  1,
		Active:         true,
	}
}

func newTestCounter(t *testing.T) (*Counter, *identity.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStoreFromClient(client)
	mgr := identity.New(store)
	c, err := New(1, []zonecounter.Zone{square()}, mgr)
	require.NoError(t, err)
	return c, mgr
}

func det(trackID int, cx, cy float64, embedding []float32) detect.Detection {
	return detect.Detection{
		TrackID:    trackID,
		BBox:       detect.BBox{X1: cx - 5, Y1: cy - 5, X2: cx + 5, Y2: cy + 5},
		Confidence: 0.9,
		Embedding:  embedding,
		ChannelID:  1,
	}
}

func TestStaffDetectionsExcludedFromEvents(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(t)

	d := det(1, 50, 50, []float32{1, 0, 0})
	d.IsStaff = true

	result := c.Update(ctx, []detect.Detection{d}, nil, 200, 200, 1)
	assert.Empty(t, result.Events)
}

func TestCustomerEnterEventCarriesPersonID(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(t)

	d := det(7, 50, 50, []float32{0.2, 0.9, 0.1})
	result := c.Update(ctx, []detect.Detection{d}, nil, 200, 200, 1)

	require.Len(t, result.Events, 1)
	assert.Equal(t, zonecounter.EdgeEnter, result.Events[0].Type)
	require.NotNil(t, result.Events[0].PersonID)
}

func TestSecondEnterSameDayDroppedByDailyDedup(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(t)
	embedding := []float32{0.5, 0.5, 0.1}

	first := c.Update(ctx, []detect.Detection{det(1, 50, 50, embedding)}, nil, 200, 200, 1)
	require.Len(t, first.Events, 1)

	outside := c.Update(ctx, []detect.Detection{det(1, 150, 150, embedding)}, nil, 200, 200, 2)
	require.Len(t, outside.Events, 1)
	assert.Equal(t, zonecounter.EdgeExit, outside.Events[0].Type)

	reenterSameID := det(1, 50, 50, embedding)
	again := c.Update(ctx, []detect.Detection{reenterSameID}, nil, 200, 200, 3)

	for _, ev := range again.Events {
		if ev.Type == zonecounter.EdgeEnter {
			t.Fatalf("unexpected second enter for same track/person on the same day: %+v", ev)
		}
	}
}

func TestNilPersonIDEventsPassThroughUnfiltered(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(t)

	result := c.Update(ctx, []detect.Detection{det(9, 50, 50, nil)}, nil, 200, 200, 1)
	require.Len(t, result.Events, 1)
	assert.Nil(t, result.Events[0].PersonID)
}

func TestStaffLatchFromVoteCacheAlsoExcludesEvents(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCounter(t)
	votes := staffvote.New()

	for i := 0; i < 4; i++ {
		votes.Vote(3, staffvote.ClassificationStaff, 0.9, i)
	}

	result := c.Update(ctx, []detect.Detection{det(3, 50, 50, []float32{1, 0, 0})}, votes, 200, 200, 5)
	assert.Empty(t, result.Events)
}
