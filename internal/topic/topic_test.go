package topic

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"BTC", "BTC", true},
		{"btc", "BTC", true},
		{" eth ", "ETH", true},
		{"1000pepe", "1000PEPE", true},
		{"", "", false},
		{"   ", "", false},
		{"BTC-PERP", "", false},
		{"BTC/USDT", "", false},
		{"THISSYMBOLISWAYTOOLONGTOBEATOPIC", "", false},
	}

	for _, tc := range cases {
		got, ok := Normalize(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Normalize(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
