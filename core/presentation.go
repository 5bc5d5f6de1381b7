package core

import (
	"fmt"
	"time"
)

// LabelMode selects how the vehicle readout is attached to its marker.
type LabelMode string

const (
	// LabelPopup is a permanently open popup.
	LabelPopup LabelMode = "popup"
	// LabelTooltip is an interactive tooltip shown on hover or click.
	LabelTooltip LabelMode = "tooltip"
)

// DefaultTotalTripDuration is the nominal duration of one trip used for the
// remaining-time estimate. It is not derived from real-world speed.
const DefaultTotalTripDuration = 30 * time.Minute

// Icon describes a marker image. Sizes and anchors are in pixels.
type Icon struct {
	URL    string `json:"url"`
	Size   [2]int `json:"size"`
	Anchor [2]int `json:"anchor,omitempty"`
}

// IconSet holds the three marker icons.
type IconSet struct {
	Vehicle Icon `json:"vehicle"`
	Start   Icon `json:"start"`
	End     Icon `json:"end"`
}

// RouteLabels holds the user-facing names of the route endpoints. Route is
// the tooltip on the line; when empty it is derived from Start and End.
type RouteLabels struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Route string `json:"route,omitempty"`
}

// LabelStyle positions and colours an endpoint label.
type LabelStyle struct {
	Color     string `json:"color"`
	Bold      bool   `json:"bold"`
	Direction string `json:"direction"`
	Offset    [2]int `json:"offset"`
}

// LineStyle styles the route polyline. CompleteColor replaces Color once the
// trip is complete.
type LineStyle struct {
	Color         string  `json:"color"`
	CompleteColor string  `json:"complete_color"`
	Weight        int     `json:"weight"`
	Opacity       float64 `json:"opacity"`
}

// Presentation is the explicit configuration of one component instance.
// Every instance gets its own value; nothing here is shared process state.
type Presentation struct {
	TickPeriod        time.Duration
	SupportsPause     bool
	ShowInfoPanel     bool
	Labels            RouteLabels
	VehicleLabel      LabelMode
	TotalTripDuration time.Duration

	Icons         IconSet
	Line          LineStyle
	StartStyle    LabelStyle
	EndStyle      LabelStyle
	VehicleOffset [2]int

	Zoom           int
	TileURL        string
	CompletionText string
}

// DefaultPresentation returns a fresh presentation with the stock settings:
// 300 ms ticks, pause enabled, permanent vehicle popup, blue
// route, start label green above its marker, end label red below.
func DefaultPresentation() Presentation {
	return Presentation{
		TickPeriod:        DefaultTickPeriod,
		SupportsPause:     true,
		ShowInfoPanel:     false,
		Labels:            RouteLabels{Start: "Start", End: "End"},
		VehicleLabel:      LabelPopup,
		TotalTripDuration: DefaultTotalTripDuration,
		Icons: IconSet{
			Vehicle: Icon{URL: "/static/images/car.png", Size: [2]int{32, 32}},
			Start:   Icon{URL: "/static/images/start.png", Size: [2]int{25, 41}},
			End:     Icon{URL: "/static/images/end.png", Size: [2]int{25, 41}},
		},
		Line: LineStyle{
			Color:         "blue",
			CompleteColor: "green",
			Weight:        4,
			Opacity:       0.7,
		},
		StartStyle:     LabelStyle{Color: "green", Bold: true, Direction: "top", Offset: [2]int{0, -27}},
		EndStyle:       LabelStyle{Color: "red", Bold: true, Direction: "bottom", Offset: [2]int{0, 20}},
		VehicleOffset:  [2]int{0, -20},
		Zoom:           15,
		TileURL:        "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		CompletionText: "Trip complete. Press reset to replay.",
	}
}

// Validate checks the fields the presenter and controller depend on.
func (p Presentation) Validate() error {
	if p.TickPeriod < 0 {
		return fmt.Errorf("tick period %s is negative", p.TickPeriod)
	}
	if p.TotalTripDuration < 0 {
		return fmt.Errorf("total trip duration %s is negative", p.TotalTripDuration)
	}
	switch p.VehicleLabel {
	case "", LabelPopup, LabelTooltip:
	default:
		return fmt.Errorf("unknown vehicle label mode %q", p.VehicleLabel)
	}
	if p.Line.Opacity < 0 || p.Line.Opacity > 1 {
		return fmt.Errorf("line opacity %v outside [0, 1]", p.Line.Opacity)
	}
	if p.Zoom < 0 || p.Zoom > 22 {
		return fmt.Errorf("zoom %d outside [0, 22]", p.Zoom)
	}
	return nil
}

// ControllerOptions maps the presentation's playback knobs onto controller
// options.
func (p Presentation) ControllerOptions() []ControllerOption {
	return []ControllerOption{
		WithTickPeriod(p.TickPeriod),
		WithPauseSupport(p.SupportsPause),
	}
}

// routeTooltip is the text attached to the polyline.
func (p Presentation) routeTooltip() string {
	if p.Labels.Route != "" {
		return p.Labels.Route
	}
	return fmt.Sprintf("Route from %s to %s", p.Labels.Start, p.Labels.End)
}
