package model

import (
	"math"
	"testing"
)

func TestCoordinateValidate(t *testing.T) {
	cases := []struct {
		name    string
		c       Coordinate
		wantErr bool
	}{
		{"ok", Coordinate{Latitude: 28.85, Longitude: 77.10}, false},
		{"nan", Coordinate{Latitude: math.NaN(), Longitude: 0}, true},
		{"inf", Coordinate{Latitude: 0, Longitude: math.Inf(1)}, true},
		{"lat range", Coordinate{Latitude: 91, Longitude: 0}, true},
		{"lon range", Coordinate{Latitude: 0, Longitude: -181}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.c.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCoordinateString(t *testing.T) {
	c := Coordinate{Latitude: 28.86, Longitude: 77.1}
	if got, want := c.String(), "(28.86000, 77.10000)"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestRouteCopiesInput(t *testing.T) {
	pts := []Coordinate{{Latitude: 1, Longitude: 2}, {Latitude: 3, Longitude: 4}}
	r := NewRoute("r", pts)
	pts[0].Latitude = 99

	if got := r.At(0).Latitude; got != 1 {
		t.Fatalf("route mutated through input slice: lat = %v", got)
	}

	out := r.Coordinates()
	out[1].Longitude = 99
	if got := r.At(1).Longitude; got != 4 {
		t.Fatalf("route mutated through Coordinates(): lon = %v", got)
	}
}

func TestRouteEndpoints(t *testing.T) {
	var empty Route
	if _, ok := empty.Start(); ok {
		t.Fatalf("empty route reported a start")
	}
	if empty.LastIndex() != -1 || empty.Usable() {
		t.Fatalf("empty route: LastIndex=%d Usable=%v", empty.LastIndex(), empty.Usable())
	}

	r := NewRoute("r", []Coordinate{{Latitude: 1}, {Latitude: 2}, {Latitude: 3}})
	start, _ := r.Start()
	end, _ := r.End()
	if start.Latitude != 1 || end.Latitude != 3 {
		t.Fatalf("endpoints = %v, %v", start, end)
	}
	if !r.Usable() || r.LastIndex() != 2 {
		t.Fatalf("Usable=%v LastIndex=%d", r.Usable(), r.LastIndex())
	}
}

func TestPhaseString(t *testing.T) {
	if PhasePaused.String() != "paused" || Phase(42).String() != "unknown" {
		t.Fatalf("unexpected phase names")
	}
	b, _ := PhaseComplete.MarshalText()
	if string(b) != "complete" {
		t.Fatalf("MarshalText = %q", b)
	}
}

func TestPhaseUnmarshalText(t *testing.T) {
	var p Phase
	if err := p.UnmarshalText([]byte("paused")); err != nil || p != PhasePaused {
		t.Fatalf("UnmarshalText(paused) = %v, %v", p, err)
	}
	if err := p.UnmarshalText([]byte("idle")); err == nil {
		t.Fatalf("expected error for unknown phase")
	}
}
