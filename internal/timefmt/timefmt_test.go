package timefmt

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{in: "14:30", h: 14, m: 30},
		{in: "14h30", h: 14, m: 30},
		{in: "14H05", h: 14, m: 5},
		{in: "14", h: 14, m: 0},
		{in: "  7:05 ", h: 7, m: 5},
		{in: "25:99", h: 25, m: 99},
		{in: "", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "12:", wantErr: true},
		{in: "-1:30", wantErr: true},
		{in: "12.30", wantErr: true},
		{in: "1 2", wantErr: true},
	}
	for _, tc := range cases {
		h, m, err := ParseTimeOfDay(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidFormat) {
				t.Fatalf("ParseTimeOfDay(%q) err = %v, want ErrInvalidFormat", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q) unexpected error: %v", tc.in, err)
		}
		if h != tc.h || m != tc.m {
			t.Fatalf("ParseTimeOfDay(%q) = (%d,%d), want (%d,%d)", tc.in, h, m, tc.h, tc.m)
		}
	}
}

func TestValidateTimeOfDay(t *testing.T) {
	t.Parallel()
	for h := 0; h <= 23; h++ {
		for m := 0; m <= 59; m++ {
			if !ValidateTimeOfDay(h, m) {
				t.Fatalf("ValidateTimeOfDay(%d,%d) = false", h, m)
			}
		}
	}
	for _, c := range [][2]int{{-1, 0}, {24, 0}, {0, -1}, {0, 60}, {25, 99}} {
		if ValidateTimeOfDay(c[0], c[1]) {
			t.Fatalf("ValidateTimeOfDay(%d,%d) = true", c[0], c[1])
		}
	}
}

func TestRemaining(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		target time.Time
		want   string
	}{
		{now, "00h 00m"},
		{now.Add(-time.Hour), "00h 00m"},
		{now.Add(90*time.Minute + 59*time.Second), "01h 30m"},
		{now.Add(8 * time.Hour), "08h 00m"},
		{now.Add(130 * time.Hour), "130h 00m"},
	}
	for _, tc := range cases {
		if got := Remaining(tc.target, now); got != tc.want {
			t.Fatalf("Remaining(%v) = %q, want %q", tc.target.Sub(now), got, tc.want)
		}
	}
}

func TestResolveDeath(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC-3", -3*3600)
	now := time.Date(2024, 3, 10, 10, 0, 0, 0, loc)

	past := ResolveDeath(now, 9, 15, false, loc)
	if want := time.Date(2024, 3, 10, 9, 15, 0, 0, loc); !past.Equal(want) {
		t.Fatalf("past time = %v, want %v", past, want)
	}

	future := ResolveDeath(now, 23, 0, false, loc)
	if want := time.Date(2024, 3, 9, 23, 0, 0, 0, loc); !future.Equal(want) {
		t.Fatalf("future time = %v, want %v", future, want)
	}

	yesterday := ResolveDeath(now, 9, 15, true, loc)
	if want := time.Date(2024, 3, 9, 9, 15, 0, 0, loc); !yesterday.Equal(want) {
		t.Fatalf("yesterday flag = %v, want %v", yesterday, want)
	}

	// now expressed in UTC still resolves against the configured zone's date.
	utcNow := time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC) // 22:00 on the 10th in loc
	got := ResolveDeath(utcNow, 21, 30, false, loc)
	if want := time.Date(2024, 3, 10, 21, 30, 0, 0, loc); !got.Equal(want) {
		t.Fatalf("cross-zone = %v, want %v", got, want)
	}
}

func TestClock(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("X", 2*3600)
	if got := Clock(time.Date(2024, 1, 1, 22, 5, 0, 0, time.UTC), loc); got != "00:05" {
		t.Fatalf("Clock = %q", got)
	}
	if got := Clock(time.Time{}, loc); got != "--:--" {
		t.Fatalf("zero Clock = %q", got)
	}
}
