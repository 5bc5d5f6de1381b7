package core

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/route-playback/model"
)

// MarkerKind identifies one of the three markers in a scene.
type MarkerKind string

const (
	MarkerStart   MarkerKind = "start"
	MarkerEnd     MarkerKind = "end"
	MarkerVehicle MarkerKind = "vehicle"
)

// Label is text attached to a marker or to the route line. Permanent labels
// stay open; others open on interaction.
type Label struct {
	Text      string    `json:"text"`
	Mode      LabelMode `json:"mode"`
	Permanent bool      `json:"permanent"`
	Direction string    `json:"direction,omitempty"`
	Offset    [2]int    `json:"offset"`
	Color     string    `json:"color,omitempty"`
	Bold      bool      `json:"bold,omitempty"`
}

// Marker is an icon at a coordinate.
type Marker struct {
	ID       string           `json:"id"`
	Kind     MarkerKind       `json:"kind"`
	Position model.Coordinate `json:"position"`
	Icon     Icon             `json:"icon"`
	Label    *Label           `json:"label,omitempty"`
}

// Polyline is the route line.
type Polyline struct {
	ID          string             `json:"id"`
	Coordinates []model.Coordinate `json:"coordinates"`
	Color       string             `json:"color"`
	Weight      int                `json:"weight"`
	Opacity     float64            `json:"opacity"`
	Tooltip     *Label             `json:"tooltip,omitempty"`
}

// Viewport centres the map.
type Viewport struct {
	Center  model.Coordinate `json:"center"`
	Zoom    int              `json:"zoom"`
	TileURL string           `json:"tile_url"`
}

// InfoPanel summarises the trip. RemainingSeconds is nil when there is no
// estimate to show.
type InfoPanel struct {
	StartLabel       string           `json:"start_label"`
	EndLabel         string           `json:"end_label"`
	Start            model.Coordinate `json:"start"`
	End              model.Coordinate `json:"end"`
	Progress         float64          `json:"progress"`
	RemainingSeconds *int             `json:"remaining_seconds,omitempty"`
}

// Lines renders the panel as display text.
func (p InfoPanel) Lines() []string {
	lines := []string{
		fmt.Sprintf("From: %s %s", p.StartLabel, p.Start),
		fmt.Sprintf("To: %s %s", p.EndLabel, p.End),
		fmt.Sprintf("Progress: %.0f%%", p.Progress*100),
	}
	if p.RemainingSeconds != nil {
		lines = append(lines, fmt.Sprintf("Est. remaining: %s", time.Duration(*p.RemainingSeconds)*time.Second))
	}
	return lines
}

// Banner is the completion notice.
type Banner struct {
	Text string `json:"text"`
}

// Button is one user control.
type Button struct {
	Enabled bool   `json:"enabled"`
	Icon    string `json:"icon"`
}

// Controls describes the control surface.
type Controls struct {
	PlayPause Button `json:"play_pause"`
	Reset     Button `json:"reset"`
}

// Scene is the full description of one frame. It is data only; MapCanvas
// implementations turn it into draw calls.
type Scene struct {
	RouteID   string              `json:"route_id"`
	State     model.PlaybackState `json:"state"`
	Viewport  *Viewport           `json:"viewport,omitempty"`
	Route     *Polyline           `json:"route,omitempty"`
	Markers   []Marker            `json:"markers"`
	InfoPanel *InfoPanel          `json:"info_panel,omitempty"`
	Banner    *Banner             `json:"banner,omitempty"`
	Controls  Controls            `json:"controls"`
	Degraded  bool                `json:"degraded"`
	Notice    string              `json:"notice,omitempty"`
}

// Marker returns the marker of the given kind.
func (s Scene) Marker(kind MarkerKind) (Marker, bool) {
	for _, m := range s.Markers {
		if m.Kind == kind {
			return m, true
		}
	}
	return Marker{}, false
}

// Render describes the frame for route at state. It reads its inputs only.
//
// A route with a single point renders a static vehicle marker and no line;
// an empty route renders nothing but the degraded notice and controls.
func Render(route model.Route, state model.PlaybackState, p Presentation) Scene {
	scene := Scene{
		RouteID:  route.ID,
		State:    state,
		Markers:  []Marker{},
		Controls: renderControls(route, state, p),
	}

	switch route.Len() {
	case 0:
		scene.Degraded = true
		scene.Notice = "route has no points"
		return scene
	case 1:
		only := route.At(0)
		scene.Degraded = true
		scene.Notice = "route has a single point; nothing to animate"
		scene.Viewport = &Viewport{Center: only, Zoom: p.Zoom, TileURL: p.TileURL}
		scene.Markers = append(scene.Markers, vehicleMarker(only, p))
		return scene
	}

	start, _ := route.Start()
	end, _ := route.End()
	idx := clampIndex(state.CurrentIndex, route.LastIndex())
	current := route.At(idx)

	scene.Viewport = &Viewport{Center: start, Zoom: p.Zoom, TileURL: p.TileURL}

	color := p.Line.Color
	if state.IsComplete {
		color = p.Line.CompleteColor
	}
	scene.Route = &Polyline{
		ID:          "route",
		Coordinates: route.Coordinates(),
		Color:       color,
		Weight:      p.Line.Weight,
		Opacity:     p.Line.Opacity,
		Tooltip: &Label{
			Text: p.routeTooltip(),
			Mode: LabelTooltip,
		},
	}

	scene.Markers = append(scene.Markers,
		Marker{
			ID:       string(MarkerStart),
			Kind:     MarkerStart,
			Position: start,
			Icon:     p.Icons.Start,
			Label:    endpointLabel(p.Labels.Start, p.StartStyle),
		},
		Marker{
			ID:       string(MarkerEnd),
			Kind:     MarkerEnd,
			Position: end,
			Icon:     p.Icons.End,
			Label:    endpointLabel(p.Labels.End, p.EndStyle),
		},
		vehicleMarker(current, p),
	)

	if p.ShowInfoPanel {
		progress := float64(idx) / float64(route.LastIndex())
		panel := &InfoPanel{
			StartLabel: p.Labels.Start,
			EndLabel:   p.Labels.End,
			Start:      start,
			End:        end,
			Progress:   progress,
		}
		if p.TotalTripDuration > 0 {
			remaining := EstimateRemaining(p.TotalTripDuration, idx, route.Len())
			panel.RemainingSeconds = &remaining
		}
		scene.InfoPanel = panel
	}

	if state.IsComplete {
		scene.Banner = &Banner{Text: p.CompletionText}
	}
	return scene
}

// EstimateRemaining returns round(total * (1 - index/(length-1))) in whole
// seconds. Routes shorter than two points have nothing remaining.
func EstimateRemaining(total time.Duration, index, length int) int {
	if length < 2 {
		return 0
	}
	index = clampIndex(index, length-1)
	frac := 1 - float64(index)/float64(length-1)
	return int(math.Round(total.Seconds() * frac))
}

// VehicleReadout formats the current coordinate for the vehicle label.
func VehicleReadout(c model.Coordinate) string {
	return fmt.Sprintf("Lat: %.5f\nLng: %.5f", c.Latitude, c.Longitude)
}

func vehicleMarker(at model.Coordinate, p Presentation) Marker {
	mode := p.VehicleLabel
	if mode == "" {
		mode = LabelPopup
	}
	return Marker{
		ID:       string(MarkerVehicle),
		Kind:     MarkerVehicle,
		Position: at,
		Icon:     p.Icons.Vehicle,
		Label: &Label{
			Text:      VehicleReadout(at),
			Mode:      mode,
			Permanent: mode == LabelPopup,
			Direction: "top",
			Offset:    p.VehicleOffset,
		},
	}
}

func endpointLabel(text string, style LabelStyle) *Label {
	return &Label{
		Text:      text,
		Mode:      LabelTooltip,
		Permanent: true,
		Direction: style.Direction,
		Offset:    style.Offset,
		Color:     style.Color,
		Bold:      style.Bold,
	}
}

func renderControls(route model.Route, state model.PlaybackState, p Presentation) Controls {
	icon := "pause"
	if state.IsPaused {
		icon = "play"
	}
	return Controls{
		PlayPause: Button{
			Enabled: p.SupportsPause && route.Usable() && !state.IsComplete,
			Icon:    icon,
		},
		Reset: Button{Enabled: true, Icon: "redo"},
	}
}

func clampIndex(i, last int) int {
	if i < 0 {
		return 0
	}
	if i > last {
		return last
	}
	return i
}
