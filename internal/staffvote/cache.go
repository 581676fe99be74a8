// Package staffvote turns a noisy per-frame staff/customer classification
// stream into a single latched label per track.
package staffvote

import (
	"log"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Classification is the raw per-frame signal handed to Vote.
type Classification string

const (
	ClassificationStaff    Classification = "staff"
	ClassificationCustomer Classification = "customer"
	ClassificationUnknown  Classification = "unknown"
)

// Label is a latched classification.
type Label string

const (
	LabelStaff    Label = "staff"
	LabelCustomer Label = "customer"
)

const (
	defaultVoteThreshold = 4.0
	defaultVoteWindow    = 10
	defaultKeepFrames    = 30
	maxTrackedEntries    = 20000
)

type voteEntry struct {
	vStaff     float64
	vCustomer  float64
	votes      int
	firstFrame int
	lastFrame  int
	fixed      bool
	finalLabel Label
}

// Cache accumulates per-track staff/customer votes. One instance per
// channel, owned by that channel's worker.
type Cache struct {
	entries *lru.Cache[int, *voteEntry]

	voteThreshold float64
	voteWindow    int
	keepFrames    int
}

// Option configures a Cache away from its defaults.
type Option func(*Cache)

// WithVoteThreshold overrides the weighted-vote latch threshold (default 4).
func WithVoteThreshold(t float64) Option {
	return func(c *Cache) { c.voteThreshold = t }
}

// WithVoteWindow overrides the frame count after which the leading bucket
// latches regardless of threshold (default 10).
func WithVoteWindow(w int) Option {
	return func(c *Cache) { c.voteWindow = w }
}

// WithKeepFrames overrides how many frames of inactivity Cleanup tolerates
// before evicting an entry (default 30).
func WithKeepFrames(f int) Option {
	return func(c *Cache) { c.keepFrames = f }
}

// New builds a Cache with the given options applied over the defaults.
func New(opts ...Option) *Cache {
	backing, err := lru.New[int, *voteEntry](maxTrackedEntries)
	if err != nil {
		// Only returns an error for a non-positive size, which can't happen
		// with the constant above.
		log.Fatalf("[ERROR] staffvote: failed to build backing cache: %v", err)
	}
	c := &Cache{
		entries:       backing,
		voteThreshold: defaultVoteThreshold,
		voteWindow:    defaultVoteWindow,
		keepFrames:    defaultKeepFrames,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func weightFor(confidence float64) float64 {
	switch {
	case confidence > 0.7:
		return 2.0
	case confidence > 0.5:
		return 1.5
	default:
		return 1.0
	}
}

// Vote folds one frame's classification into the track's running tally and
// returns the latched label once one exists.
func (c *Cache) Vote(trackID int, classification Classification, confidence float64, frameNum int) (label Label, fixed bool) {
	e, ok := c.entries.Get(trackID)
	if !ok {
		e = &voteEntry{firstFrame: frameNum}
		c.entries.Add(trackID, e)
	}
	if e.fixed {
		return e.finalLabel, true
	}

	weight := weightFor(confidence)
	switch classification {
	case ClassificationStaff:
		e.vStaff += weight
	case ClassificationCustomer:
		e.vCustomer += weight
	default:
		e.vCustomer += weight / 2.0
	}
	e.votes++
	e.lastFrame = frameNum

	switch {
	case e.vStaff >= c.voteThreshold:
		e.fixed = true
		e.finalLabel = LabelStaff
	case e.vCustomer >= c.voteThreshold:
		e.fixed = true
		e.finalLabel = LabelCustomer
	case frameNum-e.firstFrame+1 >= c.voteWindow:
		e.fixed = true
		if e.vStaff > e.vCustomer {
			e.finalLabel = LabelStaff
		} else {
			e.finalLabel = LabelCustomer
		}
	}

	if !e.fixed {
		return "", false
	}
	return e.finalLabel, true
}

// Get returns the latched label for a track, if any vote has fixed one.
func (c *Cache) Get(trackID int) (Label, bool) {
	e, ok := c.entries.Get(trackID)
	if !ok || !e.fixed {
		return "", false
	}
	return e.finalLabel, true
}

// Cleanup evicts entries whose last_frame precedes frameNum-keepFrames and
// whose track is not currently active: explicit, frame-driven eviction
// rather than purely size-bounded LRU.
func (c *Cache) Cleanup(activeTrackIDs map[int]bool, frameNum int) {
	cutoff := frameNum - c.keepFrames
	for _, trackID := range c.entries.Keys() {
		if activeTrackIDs[trackID] {
			continue
		}
		e, ok := c.entries.Peek(trackID)
		if !ok {
			continue
		}
		if e.lastFrame < cutoff {
			c.entries.Remove(trackID)
		}
	}
}

// TrackStats is a point-in-time view of one track's voting state, used by
// the metrics sink and operational dashboards.
type TrackStats struct {
	TrackID    int
	VStaff     float64
	VCustomer  float64
	Votes      int
	Fixed      bool
	FinalLabel Label
}

// Stats returns a snapshot for every tracked entry, for diagnostics
// during rollout: per-track vote breakdowns the metrics sink can surface
// without adding new Prometheus label cardinality.
func (c *Cache) Stats() []TrackStats {
	keys := c.entries.Keys()
	out := make([]TrackStats, 0, len(keys))
	for _, trackID := range keys {
		e, ok := c.entries.Peek(trackID)
		if !ok {
			continue
		}
		out = append(out, TrackStats{
			TrackID:    trackID,
			VStaff:     e.vStaff,
			VCustomer:  e.vCustomer,
			Votes:      e.votes,
			Fixed:      e.fixed,
			FinalLabel: e.finalLabel,
		})
	}
	return out
}
