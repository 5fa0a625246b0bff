package core

import (
	"math"
	"testing"
	"time"
)

func TestHaversineMetersZeroForSamePoint(t *testing.T) {
	p := Coordinate{Lat: 40.0, Lng: -70.0}
	if d := HaversineMeters(p, p); d != 0 {
		t.Fatalf("expected 0 distance for identical points, got %v", d)
	}
}

func TestHaversineMetersKnownDistance(t *testing.T) {
	// Roughly one degree of latitude along the same meridian is ~111.2km.
	a := Coordinate{Lat: 0, Lng: 0}
	b := Coordinate{Lat: 1, Lng: 0}
	d := HaversineMeters(a, b)
	if math.Abs(d-111195) > 200 {
		t.Fatalf("expected ~111195m for 1 degree of latitude, got %v", d)
	}
}

func TestHaversineKmMatchesMeters(t *testing.T) {
	a := Coordinate{Lat: 10, Lng: 10}
	b := Coordinate{Lat: 12, Lng: 11}
	if HaversineKm(a, b) != HaversineMeters(a, b)/1000.0 {
		t.Fatalf("HaversineKm must equal HaversineMeters/1000")
	}
}

func TestCoordinateGridRecordOpSaturates(t *testing.T) {
	grid := NewCoordinateGrid(3)
	coord := Coordinate{Lat: 10, Lng: 20}

	for i := 0; i < 3; i++ {
		if err := grid.RecordOp(coord); err != nil {
			t.Fatalf("RecordOp %d should succeed under cap: %v", i, err)
		}
	}
	if err := grid.RecordOp(coord); KindOf(err) != KindCoordinateSaturated {
		t.Fatalf("expected CoordinateSaturated on 4th op, got %v", err)
	}
}

func TestCoordinateGridWindowExpiresOldOps(t *testing.T) {
	grid := NewCoordinateGrid(1)
	coord := Coordinate{Lat: -5, Lng: -5}
	fixedNow := time.Unix(1_700_000_000, 0)
	grid.nowFunc = func() time.Time { return fixedNow }

	if err := grid.RecordOp(coord); err != nil {
		t.Fatalf("first RecordOp: %v", err)
	}
	if err := grid.RecordOp(coord); KindOf(err) != KindCoordinateSaturated {
		t.Fatalf("expected saturation within the same window")
	}

	grid.nowFunc = func() time.Time { return fixedNow.Add(CoordinateWindow + time.Second) }
	if err := grid.RecordOp(coord); err != nil {
		t.Fatalf("expected RecordOp to succeed after window rolls over: %v", err)
	}
}

func TestCoordinateGridRejectsOutOfRange(t *testing.T) {
	grid := NewCoordinateGrid(10)
	if err := grid.RecordOp(Coordinate{Lat: 200, Lng: 0}); err == nil {
		t.Fatalf("expected error for out-of-range latitude")
	}
}

func TestCoordinateGridBeginEndContractTracksEMA(t *testing.T) {
	grid := NewCoordinateGrid(100)
	coord := Coordinate{Lat: 1, Lng: 1}
	grid.BeginContract(coord)
	if grid.Snapshot(coord).ActiveContracts != 1 {
		t.Fatalf("expected ActiveContracts 1 after BeginContract")
	}
	grid.EndContract(coord, true)
	snap := grid.Snapshot(coord)
	if snap.ActiveContracts != 0 {
		t.Fatalf("expected ActiveContracts 0 after EndContract")
	}
	if snap.SuccessRateEMA != EMAAlpha {
		t.Fatalf("expected EMA to equal alpha after first success sample, got %v", snap.SuccessRateEMA)
	}
}
