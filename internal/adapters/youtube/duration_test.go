package youtube

import "testing"

func TestParseISODuration(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"PT1H2M3S", 3723},
		{"PT45S", 45},
		{"PT2H", 7200},
		{"PT10M", 600},
		{"PT1H30S", 3630},
		{"PT0S", 0},
		{"", 0},
		{"мусор", 0},
		{"P1DT2H", 7200},
	}
	for _, tc := range cases {
		got := ParseISODuration(tc.raw)
		if got != tc.want {
			t.Errorf("ParseISODuration(%q) = %d, ожидали %d", tc.raw, got, tc.want)
		}
	}
}
