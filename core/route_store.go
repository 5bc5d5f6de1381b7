package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/route-playback/model"
)

var (
	// ErrRouteSourceMissing indicates there is no coordinate source or the
	// backing file does not exist.
	ErrRouteSourceMissing = errors.New("route source missing")
	// ErrRouteTooShort indicates the source yielded fewer than
	// model.MinRouteLength points.
	ErrRouteTooShort = errors.New("route has fewer than 2 points")
	// ErrInvalidCoordinate indicates a record that is not a finite,
	// in-range latitude/longitude pair.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// CoordinateSource yields the ordered points of one route.
type CoordinateSource interface {
	Coordinates() ([]model.Coordinate, error)
}

// StaticSource is an in-memory list of points.
type StaticSource []model.Coordinate

// Coordinates returns a copy of the list.
func (s StaticSource) Coordinates() ([]model.Coordinate, error) {
	out := make([]model.Coordinate, len(s))
	copy(out, s)
	return out, nil
}

// JSONSource reads a file holding [{"latitude": .., "longitude": ..}, ...].
type JSONSource struct {
	Path string
}

// Coordinates reads and decodes the file.
func (s JSONSource) Coordinates() ([]model.Coordinate, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeJSONCoordinates(f)
}

// coordinateJSON uses pointers so a missing field is an error rather than 0.
type coordinateJSON struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// DecodeJSONCoordinates decodes a JSON array of latitude/longitude records.
func DecodeJSONCoordinates(r io.Reader) ([]model.Coordinate, error) {
	var records []coordinateJSON
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode coordinates: %w", err)
	}
	out := make([]model.Coordinate, 0, len(records))
	for i, rec := range records {
		if rec.Latitude == nil || rec.Longitude == nil {
			return nil, fmt.Errorf("record %d: %w: latitude and longitude are required", i, ErrInvalidCoordinate)
		}
		out = append(out, model.Coordinate{Latitude: *rec.Latitude, Longitude: *rec.Longitude})
	}
	return out, nil
}

// GeoJSONSource reads a GeoJSON FeatureCollection, Feature or bare geometry.
// Point, MultiPoint, LineString and MultiLineString geometries contribute
// their points in document order.
type GeoJSONSource struct {
	Path string
}

// Coordinates reads and decodes the file.
func (s GeoJSONSource) Coordinates() ([]model.Coordinate, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	return DecodeGeoJSONCoordinates(data)
}

// DecodeGeoJSONCoordinates extracts route points from GeoJSON. GeoJSON
// positions are [lon, lat].
func DecodeGeoJSONCoordinates(data []byte) ([]model.Coordinate, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	var geoms []orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decode geojson feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geoms = append(geoms, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decode geojson feature: %w", err)
		}
		geoms = append(geoms, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decode geojson geometry: %w", err)
		}
		geoms = append(geoms, g.Geometry())
	}

	var out []model.Coordinate
	for _, g := range geoms {
		pts, err := geometryPoints(g)
		if err != nil {
			return nil, err
		}
		for _, p := range pts {
			out = append(out, model.Coordinate{Latitude: p.Lat(), Longitude: p.Lon()})
		}
	}
	return out, nil
}

func geometryPoints(g orb.Geometry) ([]orb.Point, error) {
	switch geom := g.(type) {
	case nil:
		return nil, nil
	case orb.Point:
		return []orb.Point{geom}, nil
	case orb.MultiPoint:
		return geom, nil
	case orb.LineString:
		return geom, nil
	case orb.MultiLineString:
		var pts []orb.Point
		for _, ls := range geom {
			pts = append(pts, ls...)
		}
		return pts, nil
	default:
		return nil, fmt.Errorf("unsupported geojson geometry %q", g.GeoJSONType())
	}
}

// RouteStore loads a route from its source exactly once.
type RouteStore struct {
	id     string
	source CoordinateSource

	once  sync.Once
	route model.Route
	err   error
}

// NewRouteStore returns a store for the route id backed by source.
func NewRouteStore(id string, source CoordinateSource) *RouteStore {
	return &RouteStore{id: id, source: source}
}

// LoadRoute returns the route and caches the result.
//
// A route shorter than model.MinRouteLength is returned together with an
// error wrapping ErrRouteTooShort, so callers can still show the degraded
// scene. Missing sources and invalid records return an empty route.
func (s *RouteStore) LoadRoute() (model.Route, error) {
	s.once.Do(func() {
		s.route, s.err = s.load()
	})
	return s.route, s.err
}

func (s *RouteStore) load() (model.Route, error) {
	if s.source == nil {
		return model.NewRoute(s.id, nil), fmt.Errorf("route %q: %w", s.id, ErrRouteSourceMissing)
	}

	pts, err := s.source.Coordinates()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.NewRoute(s.id, nil), fmt.Errorf("route %q: %w: %v", s.id, ErrRouteSourceMissing, err)
		}
		return model.NewRoute(s.id, nil), fmt.Errorf("route %q: %w", s.id, err)
	}

	for i, p := range pts {
		if err := p.Validate(); err != nil {
			return model.NewRoute(s.id, nil), fmt.Errorf("route %q point %d: %w: %v", s.id, i, ErrInvalidCoordinate, err)
		}
	}

	route := model.NewRoute(s.id, pts)
	if !route.Usable() {
		return route, fmt.Errorf("route %q has %d point(s): %w", s.id, route.Len(), ErrRouteTooShort)
	}
	return route, nil
}
