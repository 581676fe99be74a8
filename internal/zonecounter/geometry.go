package zonecounter

// pointInPolygon reports whether point is inside polygon using an even-odd
// ray cast. Behavior on exact edges is unspecified, matching the original
// ray-casting implementation this is ported from.
func pointInPolygon(point Point, polygon []Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	inside := false
	p1 := polygon[0]
	for i := 1; i <= n; i++ {
		p2 := polygon[i%n]
		if point.Y > min64(p1.Y, p2.Y) && point.Y <= max64(p1.Y, p2.Y) && point.X <= max64(p1.X, p2.X) {
			var xIntersect float64
			if p1.Y != p2.Y {
				xIntersect = (point.Y-p1.Y)*(p2.X-p1.X)/(p2.Y-p1.Y) + p1.X
			}
			if p1.X == p2.X || point.X <= xIntersect {
				inside = !inside
			}
		}
		p1 = p2
	}
	return inside
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// cross2D is the z-component of the 2D cross product (b-a) x (p-a).
func cross2D(a, b, p Point) float64 {
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

// crossingPolarity reports the sign pair (cPrev, cCurr) of a track's
// centroid relative to a line A->B, and whether a crossing occurred at all
// (cPrev * cCurr < 0).
func crossingPolarity(prev, curr, a, b Point) (cPrev, cCurr float64, crossed bool) {
	cPrev = cross2D(a, b, prev)
	cCurr = cross2D(a, b, curr)
	crossed = cPrev*cCurr < 0
	return
}

// lineCrossedForEnter reports whether a track crossing line A->B from prev
// to curr is a valid "enter" crossing for the given side semantics.
func lineCrossedForEnter(prev, curr, a, b Point, side LineSide) bool {
	cPrev, cCurr, crossed := crossingPolarity(prev, curr, a, b)
	if !crossed {
		return false
	}
	switch side {
	case SideAbove:
		return cPrev < 0 && cCurr > 0
	case SideBelow:
		return cPrev > 0 && cCurr < 0
	case SideLeft:
		return cPrev > 0 && cCurr < 0
	case SideRight:
		return cPrev < 0 && cCurr > 0
	default:
		return false
	}
}

// lineCrossedForExit is the opposite polarity of lineCrossedForEnter for the
// same side. inRaw uses it only for bidirectional lines, where this polarity
// also counts as a candidate enter; on a typed-direction line it is not
// consulted.
func lineCrossedForExit(prev, curr, a, b Point, side LineSide) bool {
	cPrev, cCurr, crossed := crossingPolarity(prev, curr, a, b)
	if !crossed {
		return false
	}
	switch side {
	case SideAbove:
		return cPrev > 0 && cCurr < 0
	case SideBelow:
		return cPrev < 0 && cCurr > 0
	case SideLeft:
		return cPrev < 0 && cCurr > 0
	case SideRight:
		return cPrev > 0 && cCurr < 0
	default:
		return false
	}
}

// centroid returns the midpoint of a bounding box.
func centroid(x1, y1, x2, y2 float64) Point {
	return Point{X: (x1 + x2) / 2.0, Y: (y1 + y2) / 2.0}
}

// inRaw evaluates the zone's raw membership test for one track update. A
// bidirectional line counts a crossing from either side as a candidate
// enter; a typed direction only counts the matching polarity. The
// opposite polarity on a typed line is not a crossing at all as far as
// inRaw is concerned — it simply yields false like any other frame, and
// decays through the ordinary outside-streak counter like any other
// non-crossing frame.
func (z *Zone) inRaw(prevCentroid, currCentroid Point, frameW, frameH float64) bool {
	switch z.Type {
	case ZoneTypePolygon:
		pts := z.resolvedPoints(frameW, frameH)
		return pointInPolygon(currCentroid, pts)
	case ZoneTypeLine:
		a, b := z.resolvedLine(frameW, frameH)
		if lineCrossedForEnter(prevCentroid, currCentroid, a, b, z.Side) {
			return true
		}
		if z.Direction == DirectionBidirectional {
			return lineCrossedForExit(prevCentroid, currCentroid, a, b, z.Side)
		}
		return false
	default:
		return false
	}
}
