package report

import (
	"testing"

	"github.com/talmage/graceworks/internal/results"
)

func record(session string, score int) results.Record {
	return results.Record{Filename: session + ".html", SessionID: session, Score: score}
}

func TestBuild(t *testing.T) {
	records := []results.Record{
		record("2021-04", -3),
		record("2021-04", -1),
		record("2021-10", 2),
		record("2021-10", 1),
		record("2021-10", 0),
	}

	r := Build(records)
	if r.Talks != 5 {
		t.Errorf("Talks = %d", r.Talks)
	}
	if len(r.Sessions) != 2 {
		t.Fatalf("got %d sessions", len(r.Sessions))
	}

	spring := r.Sessions[0]
	if spring.SessionID != "2021-04" {
		t.Errorf("sessions not sorted: %q first", spring.SessionID)
	}
	if spring.Average != -2.0 || spring.Min != -3 || spring.Max != -1 || spring.Talks != 2 {
		t.Errorf("spring = %+v", spring)
	}

	fall := r.Sessions[1]
	if fall.Average != 1.0 || fall.Min != 0 || fall.Max != 2 {
		t.Errorf("fall = %+v", fall)
	}

	if want := -1.0 / 5.0; r.Average != want {
		t.Errorf("overall average = %v, want %v", r.Average, want)
	}
}

func TestBuild_Empty(t *testing.T) {
	r := Build(nil)
	if r.Talks != 0 || r.Average != 0 || len(r.Sessions) != 0 {
		t.Errorf("empty report = %+v", r)
	}
}

func TestLean(t *testing.T) {
	cases := []struct {
		avg  float64
		want string
	}{
		{-2.0, "grace"},
		{-0.5, "grace"},
		{0.0, "balanced"},
		{0.49, "balanced"},
		{0.5, "works"},
		{3.0, "works"},
	}
	for _, tc := range cases {
		if got := Lean(tc.avg); got != tc.want {
			t.Errorf("Lean(%v) = %q, want %q", tc.avg, got, tc.want)
		}
	}
}
