package pipeline

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/technosupport/peoplecounter/internal/detect"
	"github.com/technosupport/peoplecounter/internal/eventsink"
	"github.com/technosupport/peoplecounter/internal/metrics"
	"github.com/technosupport/peoplecounter/internal/peoplecounter"
	"github.com/technosupport/peoplecounter/internal/staffvote"
)

const defaultConfidenceFloor = 0.5

// CropFunc extracts the pixel crop for one bounding box from a frame,
// handed to the embedder and staff classifier. Decoding/cropping the raw
// frame buffer is outside this pipeline's contract (owned by whatever
// concrete FrameSource/Detector pairing is wired in); tests inject a
// trivial stand-in.
type CropFunc func(frame Frame, bbox detect.BBox) []byte

// Worker drives one channel's pipeline: frame source -> detect -> track
// -> [staff vote, embed+identify] -> count -> emit. One Worker owns its
// channel's zone counter and staff voting cache exclusively; nothing
// about a Worker is safe to call from more than one goroutine, by design
// (the channel worker is the single writer of its own state).
type Worker struct {
	ChannelID int
	Source    FrameSource
	Detector  Detector
	Tracker   Tracker
	Embedder  Embedder
	Staff     StaffClassifier
	Crop      CropFunc

	ConfidenceFloor float64
	ReID            bool
	StaffFilter     bool

	Counter *peoplecounter.Counter
	Votes   *staffvote.Cache
	Sink    *eventsink.Sink

	lastFrameAt time.Time
}

// Run drives the worker's frame loop until ctx is canceled or the source
// is exhausted. On cancellation, the current frame finishes and any
// buffered sink events are flushed before returning, per the shutdown
// contract.
func (w *Worker) Run(ctx context.Context) error {
	if w.ConfidenceFloor == 0 {
		w.ConfidenceFloor = defaultConfidenceFloor
	}
	channelLabel := strconv.Itoa(w.ChannelID)

	for {
		select {
		case <-ctx.Done():
			if w.Sink != nil {
				w.Sink.Flush(context.Background())
			}
			return nil
		default:
		}

		frame, ok, err := w.Source.Next(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: channel %d: frame source: %w", w.ChannelID, err)
		}
		if !ok {
			if w.Sink != nil {
				w.Sink.Flush(context.Background())
			}
			return nil
		}

		start := time.Now()
		w.processFrame(ctx, frame, channelLabel)
		metrics.FrameLatencyMS.Observe(float64(time.Since(start).Milliseconds()))
		w.lastFrameAt = time.Now()
	}
}

// LastFrameAge reports how long it has been since this worker last
// completed a frame, or zero before the first frame. Nothing in this
// package acts on it.
func (w *Worker) LastFrameAge() time.Duration {
	if w.lastFrameAt.IsZero() {
		return 0
	}
	return time.Since(w.lastFrameAt)
}

func (w *Worker) processFrame(ctx context.Context, frame Frame, channelLabel string) {
	raw, err := w.Detector.Detect(ctx, frame)
	if err != nil {
		log.Printf("[ERROR] pipeline: channel %d: detect failed on frame %d: %v", w.ChannelID, frame.FrameNum, err)
		return
	}

	filtered := make([]RawDetection, 0, len(raw))
	for _, d := range raw {
		if d.ClassID != PersonClassID || d.Confidence < w.ConfidenceFloor {
			continue
		}
		filtered = append(filtered, d)
	}
	metrics.RecordDetections(channelLabel, len(filtered))

	tracked, err := w.Tracker.Update(ctx, filtered, frame, channelLabel)
	if err != nil {
		log.Printf("[ERROR] pipeline: channel %d: tracker failed on frame %d: %v", w.ChannelID, frame.FrameNum, err)
		return
	}

	for i := range tracked {
		tracked[i].ChannelID = w.ChannelID
		w.resolveStaffAndIdentity(ctx, frame, &tracked[i])
	}

	result := w.Counter.Update(ctx, tracked, w.Votes, frame.Width, frame.Height, frame.FrameNum)

	metrics.SetActiveTracks(channelLabel, len(tracked))

	if w.Votes != nil {
		active := make(map[int]bool, len(tracked))
		for _, d := range tracked {
			active[d.TrackID] = true
		}
		w.Votes.Cleanup(active, frame.FrameNum)
	}

	if w.Sink == nil {
		return
	}
	for _, ev := range result.Events {
		zoneLabel := ev.ZoneID
		eventType := string(ev.Type)
		metrics.RecordEventEmitted(channelLabel, zoneLabel, eventType)

		var personID *string
		if ev.PersonID != nil {
			pid := *ev.PersonID
			personID = &pid
		}
		w.Sink.Enqueue(ctx, eventsink.CountedEvent{
			OccurredAt:  time.Now(),
			ChannelID:   w.ChannelID,
			ZoneID:      ev.ZoneID,
			EventType:   eventType,
			TrackID:     ev.TrackID,
			PersonID:    personID,
			FrameNumber: frame.FrameNum,
		})
	}
}

func (w *Worker) resolveStaffAndIdentity(ctx context.Context, frame Frame, d *detect.Detection) {
	if w.Crop == nil {
		return
	}
	crop := w.Crop(frame, d.BBox)

	if w.StaffFilter && w.Staff != nil && w.Votes != nil {
		label, confidence, err := w.Staff.Classify(ctx, crop)
		if err != nil {
			log.Printf("[WARN] pipeline: channel %d: staff classify failed for track %d: %v", w.ChannelID, d.TrackID, err)
		} else {
			classification := staffvote.ClassificationCustomer
			switch label {
			case StaffLabelStaff:
				classification = staffvote.ClassificationStaff
			case StaffLabelCustomer:
				classification = staffvote.ClassificationCustomer
			default:
				classification = staffvote.ClassificationUnknown
			}
			w.Votes.Vote(d.TrackID, classification, confidence, frame.FrameNum)
		}
	}

	if w.ReID && w.Embedder != nil {
		embedding, err := w.Embedder.Embed(ctx, crop)
		if err != nil {
			log.Printf("[WARN] pipeline: channel %d: embed failed for track %d: %v", w.ChannelID, d.TrackID, err)
			return
		}
		d.Embedding = embedding
	}
}
