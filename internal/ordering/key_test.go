package ordering

import "testing"

func TestKeyLess(t *testing.T) {
	cases := []struct {
		name     string
		a, b     Key
		wantLess bool
	}{
		{"request ordinal dominates", Key{1, 5, 5}, Key{2, 0, 0}, true},
		{"output index breaks tie", Key{1, 0, 9}, Key{1, 1, 0}, true},
		{"sequence breaks tie", Key{1, 1, 0}, Key{1, 1, 1}, true},
		{"equal keys are not less", Key{1, 1, 1}, Key{1, 1, 1}, false},
		{"neg inf sorts first", System(1, NegInf, 0), Key{1, 0, 0}, true},
		{"pos inf sorts last", Key{1, 0, 0}, System(1, PosInf, 0), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Less(c.b); got != c.wantLess {
				t.Errorf("%v.Less(%v) = %v, want %v", c.a, c.b, got, c.wantLess)
			}
		})
	}
}

func TestCounterMonotonic(t *testing.T) {
	c := NewCounter(3, 2)
	first := c.Next()
	second := c.Next()
	if !first.Less(second) {
		t.Fatalf("expected %v to sort before %v", first, second)
	}
	if first.RequestOrdinal != 3 || first.OutputIndex != 2 {
		t.Fatalf("unexpected key shape: %v", first)
	}
}
