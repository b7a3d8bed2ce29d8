package kpi

import "testing"

func TestNormalizeIndicator(t *testing.T) {
	tests := map[string]Indicator{
		"tv":       ScheduledSpeed,
		" PAI ":    PhysicalAccess,
		"환승시설 편의성": TransferConvenience,
		"xyz":      Indicator("XYZ"),
	}
	for in, want := range tests {
		if got := NormalizeIndicator(in); got != want {
			t.Errorf("NormalizeIndicator(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeCategory(t *testing.T) {
	if NormalizeCategory("고속철도") != HighSpeed {
		t.Error("expected Korean high-speed label to resolve")
	}
	if NormalizeCategory(" Conventional ") != Conventional {
		t.Error("expected case-insensitive match")
	}
	if NormalizeCategory("light_rail") != Category("light_rail") {
		t.Error("custom categories should be kept")
	}
}

func TestNormalizeMode(t *testing.T) {
	if NormalizeMode("지하철/광역철도") != ModeSubway {
		t.Error("expected subway")
	}
	if NormalizeMode("택시/배웅") != TransferDropOff {
		t.Error("expected drop-off")
	}
	if NormalizeMode(" walk ") != ModeWalk {
		t.Error("expected passthrough")
	}
}

func TestComposite(t *testing.T) {
	for _, ind := range Indicators {
		want := ind == PhysicalAccess || ind == TransferConvenience
		if ind.Composite() != want {
			t.Errorf("%s: Composite() = %v", ind, ind.Composite())
		}
	}
	if ScheduledSpeed.Name() != "scheduled speed" {
		t.Errorf("unexpected name %q", ScheduledSpeed.Name())
	}
}
