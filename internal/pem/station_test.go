package pem

import (
	"sort"
	"testing"
)

func TestSplitStation(t *testing.T) {
	tests := []struct {
		label      string
		wantN      int
		wantSuffix string
		wantWidth  int
		wantOK     bool
	}{
		{"650S", 650, "S", 0, true},
		{"0N", 0, "N", 0, true},
		{"-25e", -25, "e", 0, true},
		{"1200", 1200, "", 0, true},
		{"0650N", 650, "N", 4, true},
		{"-025W", -25, "W", 3, true},
		{"00", 0, "", 2, true},
		{"L100", 0, "", 0, false},
		{"100NE", 0, "", 0, false},
		{"", 0, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			n, suffix, width, ok := splitStation(tt.label)
			if ok != tt.wantOK {
				t.Fatalf("splitStation(%q) ok = %v, want %v", tt.label, ok, tt.wantOK)
			}
			if n != tt.wantN || suffix != tt.wantSuffix || width != tt.wantWidth {
				t.Errorf("splitStation(%q) = %d, %q, %d, want %d, %q, %d",
					tt.label, n, suffix, width, tt.wantN, tt.wantSuffix, tt.wantWidth)
			}
		})
	}
}

func TestJoinStation(t *testing.T) {
	tests := []struct {
		n      int
		suffix string
		width  int
		want   string
	}{
		{650, "N", 0, "650N"},
		{650, "N", 4, "0650N"},
		{1650, "N", 4, "1650N"},
		{12345, "S", 4, "12345S"},
		{-25, "W", 3, "-025W"},
		{0, "", 2, "00"},
	}

	for _, tt := range tests {
		if got := joinStation(tt.n, tt.suffix, tt.width); got != tt.want {
			t.Errorf("joinStation(%d, %q, %d) = %q, want %q", tt.n, tt.suffix, tt.width, got, tt.want)
		}
	}
}

func TestCompareStations(t *testing.T) {
	labels := []string{"100N", "9N", "10N", "0N", "100S", "2"}
	want := []string{"0N", "2", "9N", "10N", "100N", "100S"}

	sort.SliceStable(labels, func(i, j int) bool { return compareStations(labels[i], labels[j]) < 0 })
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("sorted = %v, want %v", labels, want)
		}
	}
}
