package zonecounter

import (
	"fmt"
	"math"
	"sort"

	"github.com/technosupport/peoplecounter/internal/detect"
)

const (
	rescueMaxDistance = 100.0
	rescueMaxAgeFrame = 10
	evictAfterFrames  = 30

	defaultFrameWidth  = 1920.0
	defaultFrameHeight = 1080.0
)

// Counter holds every loaded Zone for one channel and the per-track
// hysteresis state needed to turn raw frame-by-frame membership into
// enter/exit events. A Counter is owned by exactly one channel worker and
// is never accessed from more than one goroutine at a time.
type Counter struct {
	zones    []*Zone
	zoneByID map[string]*Zone
	counts   map[string]*ZoneCounts

	liveIDs       map[int]bool
	everSeen      map[int]bool
	trackState    map[int]map[string]*TrackZoneState
	trackCentroid map[int]Point
	disappeared   map[int]*disappearedTrack

	frameW, frameH float64
}

// New builds a Counter from a zone list, validating each zone per the data
// model. Inactive zones are kept (so later reactivation is possible)
// but are never evaluated by Update.
func New(zones []Zone) (*Counter, error) {
	c := &Counter{
		zoneByID:      map[string]*Zone{},
		counts:        map[string]*ZoneCounts{},
		liveIDs:       map[int]bool{},
		everSeen:      map[int]bool{},
		trackState:    map[int]map[string]*TrackZoneState{},
		trackCentroid: map[int]Point{},
		disappeared:   map[int]*disappearedTrack{},
	}
	for i := range zones {
		z := zones[i]
		if err := z.Validate(); err != nil {
			return nil, fmt.Errorf("zonecounter: %w", err)
		}
		if _, dup := c.zoneByID[z.ZoneID]; dup {
			return nil, fmt.Errorf("zonecounter: duplicate zone_id %q", z.ZoneID)
		}
		zp := &z
		c.zones = append(c.zones, zp)
		c.zoneByID[z.ZoneID] = zp
		c.counts[z.ZoneID] = &ZoneCounts{}
	}
	return c, nil
}

// Update advances the counter by one frame. detections is the full set of
// currently tracked people on this channel; frameW/frameH is the current
// frame resolution (zero means "unchanged, reuse the last known size").
func (c *Counter) Update(detections []detect.Detection, frameW, frameH float64, frameNum int) UpdateResult {
	if frameW > 0 {
		c.frameW = frameW
	} else if c.frameW == 0 {
		c.frameW = defaultFrameWidth
	}
	if frameH > 0 {
		c.frameH = frameH
	} else if c.frameH == 0 {
		c.frameH = defaultFrameHeight
	}

	current := make(map[int]detect.Detection, len(detections))
	for _, d := range detections {
		current[d.TrackID] = d
	}

	var events []Event

	c.snapshotStaleTracks(current, frameNum)
	c.rescueNewTracks(current, frameNum)
	events = append(events, c.processDetections(current)...)
	c.recomputeCurrent()
	events = append(events, c.evictAgedDisappeared(frameNum)...)

	c.liveIDs = make(map[int]bool, len(current))
	for id := range current {
		c.liveIDs[id] = true
		c.everSeen[id] = true
	}

	countsOut := make(map[string]ZoneCounts, len(c.counts))
	for id, cc := range c.counts {
		countsOut[id] = *cc
	}
	return UpdateResult{Counts: countsOut, Events: events, ActiveTracks: len(current)}
}

// snapshotStaleTracks moves every track that was live last frame but is
// absent this frame into the disappeared pool.
func (c *Counter) snapshotStaleTracks(current map[int]detect.Detection, frameNum int) {
	for id := range c.liveIDs {
		if _, stillLive := current[id]; stillLive {
			continue
		}
		zs := make(map[string]TrackZoneState, len(c.trackState[id]))
		for zid, st := range c.trackState[id] {
			zs[zid] = *st
		}
		c.disappeared[id] = &disappearedTrack{
			centroid:      c.trackCentroid[id],
			frameLastSeen: frameNum,
			zoneState:     zs,
		}
		delete(c.trackState, id)
		delete(c.trackCentroid, id)
	}
}

// rescueNewTracks matches track IDs this Counter has never seen before
// against the disappeared pool by nearest centroid, within the rescue
// window. A matched track inherits the disappeared record's
// per-zone state so no duplicate enter/exit is produced.
func (c *Counter) rescueNewTracks(current map[int]detect.Detection, frameNum int) {
	var newIDs []int
	for id := range current {
		if !c.everSeen[id] {
			newIDs = append(newIDs, id)
		}
	}
	sort.Ints(newIDs)

	for _, tid := range newIDs {
		curr := bboxCentroid(current[tid].BBox)

		bestID := -1
		bestDist := math.Inf(1)
		var candidateIDs []int
		for did := range c.disappeared {
			candidateIDs = append(candidateIDs, did)
		}
		sort.Ints(candidateIDs)
		for _, did := range candidateIDs {
			entry := c.disappeared[did]
			if frameNum-entry.frameLastSeen > rescueMaxAgeFrame {
				continue
			}
			dist := distance(curr, entry.centroid)
			if dist < rescueMaxDistance && dist < bestDist {
				bestDist = dist
				bestID = did
			}
		}
		if bestID < 0 {
			continue
		}
		entry := c.disappeared[bestID]
		zs := make(map[string]*TrackZoneState, len(entry.zoneState))
		for zid, st := range entry.zoneState {
			stCopy := st
			zs[zid] = &stCopy
		}
		c.trackState[tid] = zs
		delete(c.disappeared, bestID)
	}
}

// processDetections runs the hysteresis state machine over every currently
// tracked detection and every active zone.
func (c *Counter) processDetections(current map[int]detect.Detection) []Event {
	var ids []int
	for id := range current {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var events []Event
	for _, tid := range ids {
		det := current[tid]
		curr := bboxCentroid(det.BBox)
		prev, hasPrev := c.trackCentroid[tid]
		if !hasPrev {
			prev = curr
		}
		if c.trackState[tid] == nil {
			c.trackState[tid] = map[string]*TrackZoneState{}
		}

		for _, z := range c.zones {
			if !z.Active {
				continue
			}
			st := c.trackState[tid][z.ZoneID]
			if st == nil {
				st = &TrackZoneState{}
				c.trackState[tid][z.ZoneID] = st
			}
			if ev, ok := c.evaluateTrackZone(tid, z, st, prev, curr); ok {
				events = append(events, ev)
			}
		}

		c.trackCentroid[tid] = curr
	}
	return events
}

// evaluateTrackZone applies one frame's worth of hysteresis to a single
// (track, zone) pair, mutating st in place and returning the edge event, if
// any, that the frame produced.
func (c *Counter) evaluateTrackZone(trackID int, z *Zone, st *TrackZoneState, prev, curr Point) (Event, bool) {
	prevConfirmed := st.ConfirmedInside
	inRaw := z.inRaw(prev, curr, c.frameW, c.frameH)

	switch {
	case inRaw && st.FrameBalance >= 0:
		st.FrameBalance++
	case inRaw:
		st.FrameBalance = 1
	case !inRaw && st.FrameBalance > 0:
		st.FrameBalance = -1
	case !inRaw && st.FrameBalance < 0:
		st.FrameBalance--
	default:
		st.FrameBalance = 0
	}

	confirmedCurr := inRaw && st.FrameBalance >= z.EnterThreshold
	outsideStreak := 0
	if st.FrameBalance < 0 {
		outsideStreak = -st.FrameBalance
	}
	confirmedExit := !inRaw && prevConfirmed && outsideStreak >= z.ExitThreshold

	switch {
	case !prevConfirmed && confirmedCurr && st.LastCounted != EdgeEnter:
		st.LastCounted = EdgeEnter
		st.ConfirmedInside = true
		c.bump(z.ZoneID, EdgeEnter)
		return Event{Type: EdgeEnter, ZoneID: z.ZoneID, ZoneName: z.Name, TrackID: trackID}, true
	case prevConfirmed && confirmedExit && st.LastCounted != EdgeExit:
		st.ConfirmedInside = false
		st.LastCounted = EdgeExit
		c.bump(z.ZoneID, EdgeExit)
		return Event{Type: EdgeExit, ZoneID: z.ZoneID, ZoneName: z.Name, TrackID: trackID}, true
	default:
		// No edge this frame: confirmed_inside is left unchanged so a
		// partial outside-streak can't prematurely end a dwell.
		return Event{}, false
	}
}

func (c *Counter) bump(zoneID string, edge EdgeType) {
	cc := c.counts[zoneID]
	if cc == nil {
		return
	}
	switch edge {
	case EdgeEnter:
		cc.Enter++
	case EdgeExit:
		cc.Exit++
	}
	cc.Total = cc.Enter - cc.Exit
}

// recomputeCurrent recounts, for every zone, how many live tracks are
// presently confirmed inside it.
func (c *Counter) recomputeCurrent() {
	for _, z := range c.zones {
		n := 0
		for _, zs := range c.trackState {
			if st, ok := zs[z.ZoneID]; ok && st.ConfirmedInside {
				n++
			}
		}
		c.counts[z.ZoneID].Current = n
	}
}

// evictAgedDisappeared removes disappeared records older than the
// retention window, emitting a synthetic exit for any zone the track was
// still confirmed inside of when it vanished.
func (c *Counter) evictAgedDisappeared(frameNum int) []Event {
	var stale []int
	for did, entry := range c.disappeared {
		if frameNum-entry.frameLastSeen > evictAfterFrames {
			stale = append(stale, did)
		}
	}
	sort.Ints(stale)

	var events []Event
	for _, did := range stale {
		entry := c.disappeared[did]
		var zids []string
		for zid := range entry.zoneState {
			zids = append(zids, zid)
		}
		sort.Strings(zids)
		for _, zid := range zids {
			if !entry.zoneState[zid].ConfirmedInside {
				continue
			}
			name := ""
			if z := c.zoneByID[zid]; z != nil {
				name = z.Name
			}
			c.bump(zid, EdgeExit)
			events = append(events, Event{
				Type: EdgeExit, ZoneID: zid, ZoneName: name, TrackID: did,
				Reason: "track_disappeared",
			})
		}
		delete(c.disappeared, did)
	}
	return events
}

// Reset clears counters and per-track state for a single zone, keeping the
// zone itself loaded.
func (c *Counter) Reset(zoneID string) {
	if cc, ok := c.counts[zoneID]; ok {
		*cc = ZoneCounts{}
	}
	for _, zs := range c.trackState {
		delete(zs, zoneID)
	}
	for _, entry := range c.disappeared {
		delete(entry.zoneState, zoneID)
	}
}

// ResetAll clears every zone's counters and all per-track hysteresis state,
// but keeps the loaded zone geometry.
func (c *Counter) ResetAll() {
	for _, cc := range c.counts {
		*cc = ZoneCounts{}
	}
	c.trackState = map[int]map[string]*TrackZoneState{}
	c.trackCentroid = map[int]Point{}
	c.disappeared = map[int]*disappearedTrack{}
	c.liveIDs = map[int]bool{}
	c.everSeen = map[int]bool{}
}

// Counts returns a snapshot of every zone's running totals.
func (c *Counter) Counts() map[string]ZoneCounts {
	out := make(map[string]ZoneCounts, len(c.counts))
	for id, cc := range c.counts {
		out[id] = *cc
	}
	return out
}

func bboxCentroid(b detect.BBox) Point {
	p := centroid(b.X1, b.Y1, b.X2, b.Y2)
	return p
}

func distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
