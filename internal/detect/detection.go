// Package detect holds the data types shared across the per-frame pipeline
// stages (tracker output, staff classifier output, embedder output) so that
// zonecounter, staffvote, identity and peoplecounter can agree on a single
// wire shape without importing one another.
package detect

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Centroid returns the midpoint of the box.
func (b BBox) Centroid() (x, y float64) {
	return (b.X1 + b.X2) / 2.0, (b.Y1 + b.Y2) / 2.0
}

// PersonType is the staff classifier's coarse label, when already resolved
// upstream of the counting pipeline (e.g. by a prior frame's vote).
type PersonType string

const (
	PersonTypeUnknown  PersonType = ""
	PersonTypeStaff    PersonType = "staff"
	PersonTypeCustomer PersonType = "customer"
)

// Detection is one tracked person in one frame, after the external
// detector+tracker have produced a stable TrackID and optionally an
// embedding and/or a staff/customer classification.
type Detection struct {
	TrackID    int
	BBox       BBox
	Confidence float64

	// Embedding is the 128-dim L2-normalized Re-ID vector, or nil if the
	// embedder was not run for this detection.
	Embedding []float32

	PersonType PersonType
	IsStaff    bool

	ChannelID int

	// PersonID is set when the caller has already resolved identity
	// upstream (e.g. a previous pipeline stage); when empty, the identity
	// manager resolves it from Embedding.
	PersonID string
}

// IsMarkedStaff reports whether a detection is excluded from counting under
// either of the two staff-marking fields a detection can carry.
func (d Detection) IsMarkedStaff() bool {
	return d.IsStaff || d.PersonType == PersonTypeStaff
}
