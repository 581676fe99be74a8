// Package zonecounter tracks per-zone enter/exit transitions for tracked
// people, with hysteresis against flicker and spatial recovery of briefly
// disappearing tracks.
package zonecounter

import "fmt"

// ZoneType selects the membership test a Zone uses.
type ZoneType string

const (
	ZoneTypePolygon ZoneType = "polygon"
	ZoneTypeLine    ZoneType = "line"
)

// CoordinateType selects how a Zone's geometry is interpreted.
type CoordinateType string

const (
	CoordinateAbsolute   CoordinateType = "absolute"
	CoordinatePercentage CoordinateType = "percentage"
)

// LineSide picks which half-plane of a line counts as "inside".
type LineSide string

const (
	SideAbove LineSide = "above"
	SideBelow LineSide = "below"
	SideLeft  LineSide = "left"
	SideRight LineSide = "right"
)

// Direction restricts which crossing polarity counts as an enter.
type Direction string

const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionOneWay        Direction = "one_way"
	DirectionLeftToRight   Direction = "left_to_right"
	DirectionRightToLeft   Direction = "right_to_left"
	DirectionTopToBottom   Direction = "top_to_bottom"
	DirectionBottomToTop   Direction = "bottom_to_top"
)

// Point is a 2D coordinate in pixel or percentage space depending on the
// owning Zone's CoordinateType.
type Point struct {
	X float64
	Y float64
}

// Zone is immutable once New has loaded it; it describes one polygon or line region
// within a single channel's frame.
type Zone struct {
	ZoneID         string
	Name           string
	Type           ZoneType
	CoordinateType CoordinateType

	// Polygon fields.
	Points []Point

	// Line fields.
	Start     Point
	End       Point
	Side      LineSide
	Direction Direction

	EnterThreshold int
	ExitThreshold  int
	Active         bool
}

// Validate checks the structural requirements from the Zone data model.
func (z *Zone) Validate() error {
	if z.ZoneID == "" {
		return fmt.Errorf("zone: zone_id is required")
	}
	if z.Name == "" {
		return fmt.Errorf("zone %s: name is required", z.ZoneID)
	}
	switch z.Type {
	case ZoneTypePolygon:
		if len(z.Points) < 3 {
			return fmt.Errorf("zone %s: polygon must have at least 3 points", z.ZoneID)
		}
	case ZoneTypeLine:
		// Start/End are zero-valued Points by default, which is a valid
		// (degenerate) line; nothing further to check structurally.
	default:
		return fmt.Errorf("zone %s: unknown zone type %q", z.ZoneID, z.Type)
	}
	switch z.CoordinateType {
	case CoordinateAbsolute, CoordinatePercentage, "":
	default:
		return fmt.Errorf("zone %s: unknown coordinate_type %q", z.ZoneID, z.CoordinateType)
	}
	if z.EnterThreshold <= 0 {
		z.EnterThreshold = 1
	}
	if z.ExitThreshold <= 0 {
		z.ExitThreshold = 1
	}
	return nil
}

// resolvedPoints returns the zone's polygon points in pixel space for a
// given frame size, converting from percentage if needed.
func (z *Zone) resolvedPoints(frameW, frameH float64) []Point {
	if z.CoordinateType != CoordinatePercentage {
		return z.Points
	}
	out := make([]Point, len(z.Points))
	for i, p := range z.Points {
		out[i] = Point{X: p.X * frameW / 100.0, Y: p.Y * frameH / 100.0}
	}
	return out
}

// resolvedLine returns the zone's line endpoints in pixel space.
func (z *Zone) resolvedLine(frameW, frameH float64) (Point, Point) {
	if z.CoordinateType != CoordinatePercentage {
		return z.Start, z.End
	}
	start := Point{X: z.Start.X * frameW / 100.0, Y: z.Start.Y * frameH / 100.0}
	end := Point{X: z.End.X * frameW / 100.0, Y: z.End.Y * frameH / 100.0}
	return start, end
}
