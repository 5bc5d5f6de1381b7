package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/route-playback/model"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestRouteStoreJSONSource(t *testing.T) {
	path := writeTemp(t, "route.json", `[
		{"latitude": 28.85, "longitude": 77.10},
		{"latitude": 28.86, "longitude": 77.11},
		{"latitude": 28.87, "longitude": 77.12}
	]`)

	route, err := NewRouteStore("delhi", JSONSource{Path: path}).LoadRoute()
	if err != nil {
		t.Fatalf("LoadRoute() error = %v", err)
	}
	if route.ID != "delhi" || route.Len() != 3 {
		t.Fatalf("route = %s with %d points", route.ID, route.Len())
	}
	if got := route.At(1); got != (model.Coordinate{Latitude: 28.86, Longitude: 77.11}) {
		t.Fatalf("point 1 = %v", got)
	}
}

func TestRouteStoreLoadsOnce(t *testing.T) {
	path := writeTemp(t, "route.json", `[{"latitude":1,"longitude":2},{"latitude":3,"longitude":4}]`)
	store := NewRouteStore("r", JSONSource{Path: path})

	first, err := store.LoadRoute()
	if err != nil {
		t.Fatalf("LoadRoute: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	second, err := store.LoadRoute()
	if err != nil || second.Len() != first.Len() {
		t.Fatalf("second load = %d points, %v", second.Len(), err)
	}
}

func TestRouteStoreMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	route, err := NewRouteStore("r", JSONSource{Path: path}).LoadRoute()
	if !errors.Is(err, ErrRouteSourceMissing) {
		t.Fatalf("error = %v, want ErrRouteSourceMissing", err)
	}
	if route.Len() != 0 {
		t.Fatalf("missing file produced %d points", route.Len())
	}
}

func TestRouteStoreNilSource(t *testing.T) {
	_, err := NewRouteStore("r", nil).LoadRoute()
	if !errors.Is(err, ErrRouteSourceMissing) {
		t.Fatalf("error = %v, want ErrRouteSourceMissing", err)
	}
}

func TestRouteStoreShortRoute(t *testing.T) {
	route, err := NewRouteStore("dot", StaticSource{{Latitude: 10, Longitude: 20}}).LoadRoute()
	if !errors.Is(err, ErrRouteTooShort) {
		t.Fatalf("error = %v, want ErrRouteTooShort", err)
	}
	if route.Len() != 1 {
		t.Fatalf("short route should still carry its point, got %d", route.Len())
	}
}

func TestRouteStoreRejectsInvalidRecords(t *testing.T) {
	cases := map[string]CoordinateSource{
		"out of range": StaticSource{{Latitude: 91, Longitude: 0}, {Latitude: 0, Longitude: 0}},
		"missing field": JSONSource{Path: writeTemp(t, "missing.json",
			`[{"latitude": 1}, {"latitude": 2, "longitude": 3}]`)},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			route, err := NewRouteStore("bad", src).LoadRoute()
			if !errors.Is(err, ErrInvalidCoordinate) {
				t.Fatalf("error = %v, want ErrInvalidCoordinate", err)
			}
			if route.Len() != 0 {
				t.Fatalf("invalid source produced %d points", route.Len())
			}
		})
	}
}

func TestRouteStoreMalformedJSON(t *testing.T) {
	path := writeTemp(t, "broken.json", `[{"latitude": 1,`)
	_, err := NewRouteStore("r", JSONSource{Path: path}).LoadRoute()
	if err == nil || !strings.Contains(err.Error(), "decode coordinates") {
		t.Fatalf("error = %v", err)
	}
}

func TestDecodeGeoJSONCoordinates(t *testing.T) {
	cases := map[string]struct {
		doc  string
		want int
	}{
		"feature collection": {
			doc: `{"type":"FeatureCollection","features":[
				{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[77.10,28.85],[77.11,28.86]]}},
				{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[77.12,28.87]}}
			]}`,
			want: 3,
		},
		"feature": {
			doc:  `{"type":"Feature","properties":{},"geometry":{"type":"MultiPoint","coordinates":[[77.10,28.85],[77.12,28.87]]}}`,
			want: 2,
		},
		"bare geometry": {
			doc:  `{"type":"MultiLineString","coordinates":[[[77.10,28.85],[77.11,28.86]],[[77.12,28.87]]]}`,
			want: 3,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			pts, err := DecodeGeoJSONCoordinates([]byte(tc.doc))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(pts) != tc.want {
				t.Fatalf("got %d points, want %d", len(pts), tc.want)
			}
			if pts[0] != (model.Coordinate{Latitude: 28.85, Longitude: 77.10}) {
				t.Fatalf("first point = %v, want lat/lon swapped from [lon, lat]", pts[0])
			}
		})
	}
}

func TestDecodeGeoJSONRejectsPolygons(t *testing.T) {
	doc := `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`
	if _, err := DecodeGeoJSONCoordinates([]byte(doc)); err == nil {
		t.Fatalf("expected polygon to be rejected")
	}
}

func TestRouteStoreGeoJSONSource(t *testing.T) {
	path := writeTemp(t, "route.geojson",
		`{"type":"LineString","coordinates":[[77.10,28.85],[77.11,28.86],[77.12,28.87]]}`)
	route, err := NewRouteStore("geo", GeoJSONSource{Path: path}).LoadRoute()
	if err != nil {
		t.Fatalf("LoadRoute: %v", err)
	}
	if end, _ := route.End(); end != (model.Coordinate{Latitude: 28.87, Longitude: 77.12}) {
		t.Fatalf("end = %v", end)
	}
}
