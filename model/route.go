package model

// MinRouteLength is the smallest number of points that can draw a path and
// move an icon.
const MinRouteLength = 2

// Route is an ordered, immutable path from a start location to an end
// location. The zero value is an empty route.
type Route struct {
	ID     string
	points []Coordinate
}

// NewRoute copies points into a new Route. Order is traversal order.
func NewRoute(id string, points []Coordinate) Route {
	cp := make([]Coordinate, len(points))
	copy(cp, points)
	return Route{ID: id, points: cp}
}

// Len returns the number of points on the route.
func (r Route) Len() int { return len(r.points) }

// Usable reports whether the route has enough points to animate.
func (r Route) Usable() bool { return len(r.points) >= MinRouteLength }

// LastIndex is the index of the end location, or -1 for an empty route.
func (r Route) LastIndex() int { return len(r.points) - 1 }

// At returns the point at i. It panics when i is out of range, like a
// slice index.
func (r Route) At(i int) Coordinate { return r.points[i] }

// Start returns the first point. ok is false for an empty route.
func (r Route) Start() (c Coordinate, ok bool) {
	if len(r.points) == 0 {
		return Coordinate{}, false
	}
	return r.points[0], true
}

// End returns the last point. ok is false for an empty route.
func (r Route) End() (c Coordinate, ok bool) {
	if len(r.points) == 0 {
		return Coordinate{}, false
	}
	return r.points[len(r.points)-1], true
}

// Coordinates returns a copy of the route's points.
func (r Route) Coordinates() []Coordinate {
	cp := make([]Coordinate, len(r.points))
	copy(cp, r.points)
	return cp
}
