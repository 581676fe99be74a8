package pipeline

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/peoplecounter/internal/detect"
	"github.com/technosupport/peoplecounter/internal/eventsink"
	"github.com/technosupport/peoplecounter/internal/identity"
	"github.com/technosupport/peoplecounter/internal/kv"
	"github.com/technosupport/peoplecounter/internal/peoplecounter"
	"github.com/technosupport/peoplecounter/internal/zonecounter"
)

type fakeSource struct {
	frames []Frame
	idx    int
}

func (f *fakeSource) Next(_ context.Context) (Frame, bool, error) {
	if f.idx >= len(f.frames) {
		return Frame{}, false, nil
	}
	fr := f.frames[f.idx]
	f.idx++
	return fr, true, nil
}

type fakeDetector struct {
	byFrame map[int][]RawDetection
}

func (f *fakeDetector) Detect(_ context.Context, frame Frame) ([]RawDetection, error) {
	return f.byFrame[frame.FrameNum], nil
}

type passthroughTracker struct {
	nextTrackID int
	assigned    map[string]int
}

func (t *passthroughTracker) Update(_ context.Context, detections []RawDetection, _ Frame, _ string) ([]detect.Detection, error) {
	if t.assigned == nil {
		t.assigned = map[string]int{}
		t.nextTrackID = 1
	}
	out := make([]detect.Detection, 0, len(detections))
	for _, d := range detections {
		out = append(out, detect.Detection{TrackID: 1, BBox: d.BBox, Confidence: d.Confidence})
	}
	return out, nil
}

type recordingSinkWriter struct {
	events []eventsink.CountedEvent
}

func (w *recordingSinkWriter) WriteBatch(_ context.Context, events []eventsink.CountedEvent) error {
	w.events = append(w.events, events...)
	return nil
}

func newTestIdentityManager(t *testing.T) *identity.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return identity.New(kv.NewRedisStoreFromClient(client))
}

func square() zonecounter.Zone {
	return zonecounter.Zone{
		ZoneID: "z1", Name: "entrance", Type: zonecounter.ZoneTypePolygon,
		Points:         []zonecounter.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
		EnterThreshold: 1, ExitThreshold: 1, Active: true,
	}
}

func TestWorkerRunEmitsEnterEventToSink(t *testing.T) {
	ctx := context.Background()
	mgr := newTestIdentityManager(t)
	counter, err := peoplecounter.New(1, []zonecounter.Zone{square()}, mgr)
	require.NoError(t, err)

	writer := &recordingSinkWriter{}
	sink := eventsink.New(writer, eventsink.WithFlushBatchSize(1))

	source := &fakeSource{frames: []Frame{
		{FrameNum: 1, Width: 200, Height: 200},
	}}
	detector := &fakeDetector{byFrame: map[int][]RawDetection{
		1: {{BBox: detect.BBox{X1: 45, Y1: 45, X2: 55, Y2: 55}, Confidence: 0.9, ClassID: PersonClassID}},
	}}

	w := &Worker{
		ChannelID: 1,
		Source:    source,
		Detector:  detector,
		Tracker:   &passthroughTracker{},
		Counter:   counter,
		Sink:      sink,
	}

	require.NoError(t, w.Run(ctx))
	require.Len(t, writer.events, 1)
	require.Equal(t, "enter", writer.events[0].EventType)
}

func TestWorkerFiltersLowConfidenceDetections(t *testing.T) {
	ctx := context.Background()
	mgr := newTestIdentityManager(t)
	counter, err := peoplecounter.New(1, []zonecounter.Zone{square()}, mgr)
	require.NoError(t, err)

	writer := &recordingSinkWriter{}
	sink := eventsink.New(writer, eventsink.WithFlushBatchSize(1))

	source := &fakeSource{frames: []Frame{{FrameNum: 1, Width: 200, Height: 200}}}
	detector := &fakeDetector{byFrame: map[int][]RawDetection{
		1: {{BBox: detect.BBox{X1: 45, Y1: 45, X2: 55, Y2: 55}, Confidence: 0.2, ClassID: PersonClassID}},
	}}

	w := &Worker{
		ChannelID: 1, Source: source, Detector: detector,
		Tracker: &passthroughTracker{}, Counter: counter, Sink: sink,
	}

	require.NoError(t, w.Run(ctx))
	require.Empty(t, writer.events)
}

func TestWorkerStopsCleanlyOnSourceExhaustion(t *testing.T) {
	ctx := context.Background()
	mgr := newTestIdentityManager(t)
	counter, err := peoplecounter.New(1, []zonecounter.Zone{square()}, mgr)
	require.NoError(t, err)

	w := &Worker{
		ChannelID: 1,
		Source:    &fakeSource{},
		Detector:  &fakeDetector{byFrame: map[int][]RawDetection{}},
		Tracker:   &passthroughTracker{},
		Counter:   counter,
	}
	require.NoError(t, w.Run(ctx))
}
