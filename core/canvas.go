package core

import (
	"fmt"

	"github.com/signalsfoundry/route-playback/model"
)

// MapCanvas is the drawing surface of an external map widget. Draw issues
// calls in this order: Clear, SetView, DrawPolyline, PlaceMarker and
// AttachLabel per marker, then overlays.
type MapCanvas interface {
	Clear()
	SetView(center model.Coordinate, zoom int, tileURL string) error
	DrawPolyline(line Polyline) error
	PlaceMarker(m Marker) error
	AttachLabel(targetID string, label Label) error
}

// OverlayCanvas is implemented by canvases that can show panels outside the
// map (info panel, completion banner).
type OverlayCanvas interface {
	ShowOverlay(id string, lines []string) error
}

// Overlay identifiers passed to OverlayCanvas.
const (
	OverlayInfo   = "info"
	OverlayBanner = "banner"
	OverlayNotice = "notice"
)

// Draw issues the draw calls for scene onto canvas.
func Draw(scene Scene, canvas MapCanvas) error {
	if canvas == nil {
		return fmt.Errorf("draw: canvas is nil")
	}
	canvas.Clear()

	if v := scene.Viewport; v != nil {
		if err := canvas.SetView(v.Center, v.Zoom, v.TileURL); err != nil {
			return fmt.Errorf("draw: set view: %w", err)
		}
	}
	if line := scene.Route; line != nil {
		if err := canvas.DrawPolyline(*line); err != nil {
			return fmt.Errorf("draw: polyline: %w", err)
		}
		if line.Tooltip != nil {
			if err := canvas.AttachLabel(line.ID, *line.Tooltip); err != nil {
				return fmt.Errorf("draw: route label: %w", err)
			}
		}
	}
	for _, m := range scene.Markers {
		if err := canvas.PlaceMarker(m); err != nil {
			return fmt.Errorf("draw: marker %s: %w", m.ID, err)
		}
		if m.Label != nil {
			if err := canvas.AttachLabel(m.ID, *m.Label); err != nil {
				return fmt.Errorf("draw: marker %s label: %w", m.ID, err)
			}
		}
	}

	overlays, ok := canvas.(OverlayCanvas)
	if !ok {
		return nil
	}
	if scene.Notice != "" {
		if err := overlays.ShowOverlay(OverlayNotice, []string{scene.Notice}); err != nil {
			return fmt.Errorf("draw: notice: %w", err)
		}
	}
	if scene.InfoPanel != nil {
		if err := overlays.ShowOverlay(OverlayInfo, scene.InfoPanel.Lines()); err != nil {
			return fmt.Errorf("draw: info panel: %w", err)
		}
	}
	if scene.Banner != nil {
		if err := overlays.ShowOverlay(OverlayBanner, []string{scene.Banner.Text}); err != nil {
			return fmt.Errorf("draw: banner: %w", err)
		}
	}
	return nil
}
