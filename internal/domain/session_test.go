package domain

import "testing"

func TestSessionAccepts(t *testing.T) {
	s := Session{MaxHP: 100, CurrentHP: 100, AnswerKey: "abc"}

	cases := []struct {
		in   string
		want bool
	}{
		{"abc", true},
		{"abc ", true},
		{"  abc\n", true},
		{"ABC", false},
		{"ab c", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := s.Accepts(tc.in); got != tc.want {
			t.Errorf("Accepts(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSessionPercent(t *testing.T) {
	cases := []struct {
		s    Session
		want float64
	}{
		{Session{MaxHP: 100, CurrentHP: 50}, 50},
		{Session{MaxHP: 100, CurrentHP: -20}, 0},
		{Session{MaxHP: 0, CurrentHP: 0}, 100},
	}
	for _, tc := range cases {
		if got := tc.s.Percent(); got != tc.want {
			t.Errorf("Percent(%+v) = %v, want %v", tc.s, got, tc.want)
		}
	}
}

func TestSessionDefeated(t *testing.T) {
	if (Session{MaxHP: 10, CurrentHP: 1}).Defeated() {
		t.Fatal("expected live boss")
	}
	if !(Session{MaxHP: 10, CurrentHP: -10}).Defeated() {
		t.Fatal("expected defeated boss at negative hp")
	}
}
