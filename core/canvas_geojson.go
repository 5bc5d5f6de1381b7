package core

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/route-playback/model"
)

// GeoJSONCanvas records draw calls as a GeoJSON FeatureCollection that a
// browser map (Leaflet, MapLibre) can render directly. Markers become Point
// features and the route a LineString; viewport and overlays are foreign
// members on the collection.
type GeoJSONCanvas struct {
	fc   *geojson.FeatureCollection
	byID map[string]*geojson.Feature
}

// NewGeoJSONCanvas returns an empty canvas.
func NewGeoJSONCanvas() *GeoJSONCanvas {
	c := &GeoJSONCanvas{}
	c.Clear()
	return c
}

// Clear drops all features and foreign members.
func (c *GeoJSONCanvas) Clear() {
	c.fc = geojson.NewFeatureCollection()
	c.fc.ExtraMembers = geojson.Properties{}
	c.byID = make(map[string]*geojson.Feature)
}

// SetView stores the viewport as the "viewport" member.
func (c *GeoJSONCanvas) SetView(center model.Coordinate, zoom int, tileURL string) error {
	c.fc.ExtraMembers["viewport"] = map[string]any{
		"center":   []float64{center.Longitude, center.Latitude},
		"zoom":     zoom,
		"tile_url": tileURL,
	}
	return nil
}

// DrawPolyline adds a LineString feature.
func (c *GeoJSONCanvas) DrawPolyline(line Polyline) error {
	if len(line.Coordinates) < 2 {
		return fmt.Errorf("polyline %q needs at least 2 points, got %d", line.ID, len(line.Coordinates))
	}
	ls := make(orb.LineString, 0, len(line.Coordinates))
	for _, p := range line.Coordinates {
		ls = append(ls, toPoint(p))
	}
	f := geojson.NewFeature(ls)
	f.ID = line.ID
	f.Properties["kind"] = "route"
	f.Properties["color"] = line.Color
	f.Properties["weight"] = line.Weight
	f.Properties["opacity"] = line.Opacity
	return c.add(line.ID, f)
}

// PlaceMarker adds a Point feature.
func (c *GeoJSONCanvas) PlaceMarker(m Marker) error {
	f := geojson.NewFeature(toPoint(m.Position))
	f.ID = m.ID
	f.Properties["kind"] = string(m.Kind)
	f.Properties["icon"] = map[string]any{
		"url":    m.Icon.URL,
		"size":   m.Icon.Size,
		"anchor": m.Icon.Anchor,
	}
	return c.add(m.ID, f)
}

// AttachLabel sets the "label" property of a previously drawn feature.
func (c *GeoJSONCanvas) AttachLabel(targetID string, label Label) error {
	f, ok := c.byID[targetID]
	if !ok {
		return fmt.Errorf("label target %q not drawn", targetID)
	}
	f.Properties["label"] = map[string]any{
		"text":      label.Text,
		"mode":      string(label.Mode),
		"permanent": label.Permanent,
		"direction": label.Direction,
		"offset":    label.Offset,
		"color":     label.Color,
		"bold":      label.Bold,
	}
	return nil
}

// ShowOverlay stores overlay text under the "overlays" member.
func (c *GeoJSONCanvas) ShowOverlay(id string, lines []string) error {
	overlays, _ := c.fc.ExtraMembers["overlays"].(map[string][]string)
	if overlays == nil {
		overlays = make(map[string][]string)
		c.fc.ExtraMembers["overlays"] = overlays
	}
	overlays[id] = append([]string(nil), lines...)
	return nil
}

// FeatureCollection returns the collection built so far.
func (c *GeoJSONCanvas) FeatureCollection() *geojson.FeatureCollection { return c.fc }

// MarshalJSON encodes the collection.
func (c *GeoJSONCanvas) MarshalJSON() ([]byte, error) { return c.fc.MarshalJSON() }

func (c *GeoJSONCanvas) add(id string, f *geojson.Feature) error {
	if _, dup := c.byID[id]; dup {
		return fmt.Errorf("feature %q already drawn", id)
	}
	c.fc.Append(f)
	c.byID[id] = f
	return nil
}

// toPoint converts to GeoJSON [lon, lat] order.
func toPoint(c model.Coordinate) orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}
