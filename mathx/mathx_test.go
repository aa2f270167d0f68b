package mathx

import "testing"

func TestRoundHundredths(t *testing.T) {
	cases := []struct {
		in, out float64
	}{
		{1.234, 1.23},
		{1.236, 1.24},
		{-0.456, -0.46},
		{0.004, 0},
	}
	for _, c := range cases {
		got := Round(c.in, 0.01)
		if diff := got - c.out; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Round(%v, 0.01) = %v, expected %v", c.in, got, c.out)
		}
	}
}
