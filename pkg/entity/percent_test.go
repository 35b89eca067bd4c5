package entity

import (
	"encoding/json"
	"testing"
)

func TestPercentFromFloat(t *testing.T) {
	cases := []struct {
		in   float64
		want Percent
	}{
		{0, 0},
		{70.25, 7025},
		{100, 10000},
		{0.01, 1},
		{33.333, 3333}, // rounds to nearest hundredth
		{99.999, 10000},
	}
	for _, c := range cases {
		if got := PercentFromFloat(c.in); got != c.want {
			t.Errorf("PercentFromFloat(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPercentString(t *testing.T) {
	if s := Percent(7025).String(); s != "70.25" {
		t.Errorf("expected 70.25, got %s", s)
	}
	if s := FullAllocation.String(); s != "100.00" {
		t.Errorf("expected 100.00, got %s", s)
	}
	if s := Percent(1).String(); s != "0.01" {
		t.Errorf("expected 0.01, got %s", s)
	}
}

func TestParsePercent(t *testing.T) {
	p, err := ParsePercent("70.25")
	if err != nil {
		t.Fatalf("ParsePercent failed: %v", err)
	}
	if p != 7025 {
		t.Errorf("expected 7025, got %d", p)
	}

	if _, err := ParsePercent("not-a-number"); err == nil {
		t.Error("expected error for malformed percentage")
	}
}

func TestPercentJSONRoundTrip(t *testing.T) {
	type payload struct {
		Allocation Percent `json:"allocation"`
	}

	data, err := json.Marshal(payload{Allocation: Percent(7025)})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"allocation":70.25}` {
		t.Errorf("unexpected JSON: %s", data)
	}

	var out payload
	if err := json.Unmarshal([]byte(`{"allocation":"40.00"}`), &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.Allocation != 4000 {
		t.Errorf("expected 4000, got %d", out.Allocation)
	}
}

func TestPercentInRange(t *testing.T) {
	if !FullAllocation.InRange() {
		t.Error("100.00 should be in range")
	}
	if (FullAllocation + 1).InRange() {
		t.Error("100.01 should be out of range")
	}
	if Percent(-1).InRange() {
		t.Error("negative should be out of range")
	}
}
