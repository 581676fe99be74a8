// Package pipeline wires together the external collaborators (frame
// source, detector, tracker, embedder, staff classifier) and the core
// counting components into one channel worker per camera, run
// cooperatively within that worker and in parallel across channels.
package pipeline

import (
	"context"
	"time"

	"github.com/technosupport/peoplecounter/internal/detect"
)

// Frame is one decoded frame handed down from the RTSP source, with a
// monotonic index.
type Frame struct {
	Image     []byte
	Width     float64
	Height    float64
	FrameNum  int
	CapturedAt time.Time
}

// FrameSource delivers decoded frames for one channel in increasing
// FrameNum order. A closed source returns io.EOF-equivalent via ok=false.
type FrameSource interface {
	Next(ctx context.Context) (Frame, bool, error)
}

// RawDetection is what the external detector produces before tracking and
// confidence filtering.
type RawDetection struct {
	BBox       detect.BBox
	Confidence float64
	ClassID    int
}

// Detector runs person detection on one frame. The pipeline itself
// filters by class_id == PersonClassID and the confidence floor; the
// Detector contract makes no further guarantee.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]RawDetection, error)
}

// PersonClassID is the detector's class_id value the pipeline keeps;
// everything else is filtered before tracking.
const PersonClassID = 0

// Tracker assigns stable positive integer track IDs to detections across
// frames within one session. sessionID scopes the tracker's internal
// association state to one channel.
type Tracker interface {
	Update(ctx context.Context, detections []RawDetection, frame Frame, sessionID string) ([]detect.Detection, error)
}

// Embedder maps a person crop to a 128-dim L2-normalized vector. Empty
// input yields empty output.
type Embedder interface {
	Embed(ctx context.Context, crop []byte) ([]float32, error)
}

// StaffLabel is the staff classifier's raw per-frame output label.
type StaffLabel string

const (
	StaffLabelStaff    StaffLabel = "staff"
	StaffLabelCustomer StaffLabel = "customer"
)

// StaffClassifier maps a crop to a label and confidence.
type StaffClassifier interface {
	Classify(ctx context.Context, crop []byte) (StaffLabel, float64, error)
}
