package core

import (
	"fmt"
	"io"
	"strings"

	"github.com/signalsfoundry/route-playback/model"
)

// TextCanvas writes one line per draw call. It backs the headless
// simulator and is handy in tests.
type TextCanvas struct {
	w io.Writer
}

// NewTextCanvas writes to w.
func NewTextCanvas(w io.Writer) *TextCanvas { return &TextCanvas{w: w} }

// Clear writes a frame separator.
func (c *TextCanvas) Clear() { fmt.Fprintln(c.w, "---") }

func (c *TextCanvas) SetView(center model.Coordinate, zoom int, _ string) error {
	_, err := fmt.Fprintf(c.w, "view %s zoom=%d\n", center, zoom)
	return err
}

func (c *TextCanvas) DrawPolyline(line Polyline) error {
	_, err := fmt.Fprintf(c.w, "line %s points=%d color=%s\n", line.ID, len(line.Coordinates), line.Color)
	return err
}

func (c *TextCanvas) PlaceMarker(m Marker) error {
	_, err := fmt.Fprintf(c.w, "marker %s %s\n", m.ID, m.Position)
	return err
}

func (c *TextCanvas) AttachLabel(targetID string, label Label) error {
	_, err := fmt.Fprintf(c.w, "label %s [%s] %s\n", targetID, label.Mode, strings.ReplaceAll(label.Text, "\n", " "))
	return err
}

func (c *TextCanvas) ShowOverlay(id string, lines []string) error {
	_, err := fmt.Fprintf(c.w, "overlay %s: %s\n", id, strings.Join(lines, " | "))
	return err
}
