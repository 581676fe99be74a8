// Package peoplecounter composes the staff voting cache, the identity
// manager and the zone counter into the sole source of CountedEvents the
// event sink ever sees.
package peoplecounter

import (
	"context"
	"log"

	"github.com/technosupport/peoplecounter/internal/detect"
	"github.com/technosupport/peoplecounter/internal/identity"
	"github.com/technosupport/peoplecounter/internal/staffvote"
	"github.com/technosupport/peoplecounter/internal/zonecounter"
)

// CountedEvent is a zone transition that has cleared staff exclusion and,
// when identifiable, global daily deduplication.
type CountedEvent struct {
	Type     zonecounter.EdgeType
	ZoneID   string
	ZoneName string
	TrackID  int
	PersonID *string
	Reason   string
}

// GlobalCounts summarizes today's system-wide unique-person activity,
// attached to every zone's entry for dashboard consumption.
type GlobalCounts struct {
	GlobalEnter  int
	GlobalExit   int
	GlobalUnique int
}

// ZoneResult is a single zone's local counts augmented with the global
// daily summary.
type ZoneResult struct {
	zonecounter.ZoneCounts
	Global GlobalCounts
}

// UpdateResult is the full per-frame output the event sink and dashboard
// both consume.
type UpdateResult struct {
	Zones  map[string]ZoneResult
	Events []CountedEvent
}

// Counter is the per-channel composition root for counting. One Counter
// is owned per channel worker; it shares a single identity.Manager across
// channels but never shares its zonecounter.Counter or staffvote.Cache.
type Counter struct {
	channelID int
	zones     *zonecounter.Counter
	identity  *identity.Manager
	trackToID map[int]*string
}

// New builds a Counter over the given zone layout for one channel, sharing
// the process-wide identity manager.
func New(channelID int, zones []zonecounter.Zone, identityMgr *identity.Manager) (*Counter, error) {
	zc, err := zonecounter.New(zones)
	if err != nil {
		return nil, err
	}
	return &Counter{
		channelID: channelID,
		zones:     zc,
		identity:  identityMgr,
		trackToID: map[int]*string{},
	}, nil
}

// Update runs one frame's detections through staff exclusion, identity
// resolution, zone-transition detection and global daily dedup, per the
// five-step composition: drop staff, resolve person_id, delegate to the
// zone counter, pass nil-person events through unchanged, and gate
// identified events on check_daily_count.
func (c *Counter) Update(ctx context.Context, detections []detect.Detection, votes *staffvote.Cache, frameW, frameH float64, frameNum int) UpdateResult {
	customers := make([]detect.Detection, 0, len(detections))
	for _, d := range detections {
		if votes != nil {
			if label, ok := votes.Get(d.TrackID); ok && label == staffvote.LabelStaff {
				continue
			}
		}
		if d.IsMarkedStaff() {
			continue
		}
		customers = append(customers, d)
	}

	for i := range customers {
		d := &customers[i]
		if d.PersonID != "" {
			c.trackToID[d.TrackID] = &d.PersonID
			continue
		}
		if len(d.Embedding) == 0 {
			c.trackToID[d.TrackID] = nil
			continue
		}
		personID := c.identity.GetOrAssign(ctx, c.channelID, d.TrackID, d.Embedding)
		c.trackToID[d.TrackID] = personID
		if personID != nil {
			d.PersonID = *personID
		}
	}

	raw := c.zones.Update(customers, frameW, frameH, frameNum)

	dailyCounts := map[string]struct{ enter, exit int }{}
	events := make([]CountedEvent, 0, len(raw.Events))

	for _, ev := range raw.Events {
		personID := c.trackToID[ev.TrackID]
		if personID == nil {
			events = append(events, CountedEvent{
				Type: ev.Type, ZoneID: ev.ZoneID, ZoneName: ev.ZoneName,
				TrackID: ev.TrackID, PersonID: nil, Reason: ev.Reason,
			})
			continue
		}

		eventType := "enter"
		if ev.Type == zonecounter.EdgeExit {
			eventType = "exit"
		}
		mayCount, _ := c.identity.CheckDailyCount(ctx, *personID, eventType)
		if !mayCount {
			log.Printf("[DEBUG] peoplecounter: skipping %s for person %s in zone %s, already counted today", eventType, *personID, ev.ZoneID)
			continue
		}

		entry := dailyCounts[ev.ZoneID]
		if eventType == "enter" {
			entry.enter++
		} else {
			entry.exit++
		}
		dailyCounts[ev.ZoneID] = entry

		events = append(events, CountedEvent{
			Type: ev.Type, ZoneID: ev.ZoneID, ZoneName: ev.ZoneName,
			TrackID: ev.TrackID, PersonID: personID, Reason: ev.Reason,
		})
	}

	global := c.globalCounts(ctx)

	zones := make(map[string]ZoneResult, len(raw.Counts))
	for zoneID, counts := range raw.Counts {
		zones[zoneID] = ZoneResult{ZoneCounts: counts, Global: global}
	}

	return UpdateResult{Zones: zones, Events: events}
}

func (c *Counter) globalCounts(ctx context.Context) GlobalCounts {
	all := c.identity.DailyCountsAll(ctx)
	entered := map[string]bool{}
	exited := map[string]bool{}
	for personID, counts := range all {
		if counts.Enter > 0 {
			entered[personID] = true
		}
		if counts.Exit > 0 {
			exited[personID] = true
		}
	}
	unique := map[string]bool{}
	for id := range entered {
		unique[id] = true
	}
	for id := range exited {
		unique[id] = true
	}
	return GlobalCounts{
		GlobalEnter:  len(entered),
		GlobalExit:   len(exited),
		GlobalUnique: len(unique),
	}
}

// Counts returns the latest snapshot of every zone's counts, independent
// of a frame update (used by the dashboard feed's polling path).
func (c *Counter) Counts() map[string]zonecounter.ZoneCounts {
	return c.zones.Counts()
}

// ResetAll clears every zone's counters. Daily per-person dedup state is
// owned by the identity manager and is unaffected; callers wanting a full
// daily reset should also call identity.Manager.ResetDaily.
func (c *Counter) ResetAll() {
	c.zones.ResetAll()
}
