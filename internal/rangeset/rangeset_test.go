package rangeset

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		in   []Range
		want Set
	}{
		{name: "empty", in: nil, want: nil},
		{name: "single", in: []Range{{0, 9}}, want: Set{{0, 9}}},
		{name: "adjacent fuse", in: []Range{{10, 19}, {0, 9}}, want: Set{{0, 19}}},
		{name: "overlap fuse", in: []Range{{0, 12}, {5, 19}}, want: Set{{0, 19}}},
		{name: "contained", in: []Range{{0, 30}, {5, 9}}, want: Set{{0, 30}}},
		{name: "gap kept", in: []Range{{0, 9}, {11, 19}}, want: Set{{0, 9}, {11, 19}}},
		{name: "invalid dropped", in: []Range{{5, 2}, {-1, 3}, {4, 4}}, want: Set{{4, 4}}},
		{name: "unsorted many", in: []Range{{40, 49}, {0, 9}, {20, 29}, {10, 15}}, want: Set{{0, 15}, {20, 29}, {40, 49}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.in...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Merge(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSet_Covers(t *testing.T) {
	s := Merge(Range{0, 9}, Range{20, 29})

	tests := []struct {
		want Range
		ok   bool
	}{
		{Range{0, 9}, true},
		{Range{2, 5}, true},
		{Range{20, 29}, true},
		{Range{5, 12}, false},
		{Range{10, 19}, false},
		{Range{0, 29}, false},
		{Range{30, 30}, false},
	}

	for _, tt := range tests {
		if got := s.Covers(tt.want); got != tt.ok {
			t.Errorf("Covers(%v) = %v, want %v", tt.want, got, tt.ok)
		}
	}
}

func TestSet_Subtract(t *testing.T) {
	s := Merge(Range{10, 19}, Range{30, 39})

	tests := []struct {
		name string
		want Range
		out  []Range
	}{
		{name: "fully covered", want: Range{12, 18}, out: nil},
		{name: "fully uncovered", want: Range{0, 9}, out: []Range{{0, 9}}},
		{name: "overlap at start", want: Range{5, 14}, out: []Range{{5, 9}}},
		{name: "overlap at end", want: Range{15, 24}, out: []Range{{20, 24}}},
		{name: "multiple gaps", want: Range{0, 49}, out: []Range{{0, 9}, {20, 29}, {40, 49}}},
		{name: "between ranges", want: Range{20, 29}, out: []Range{{20, 29}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Subtract(tt.want)
			if !reflect.DeepEqual(got, tt.out) {
				t.Errorf("Subtract(%v) = %v, want %v", tt.want, got, tt.out)
			}
		})
	}

	if got := Set(nil).Subtract(Range{3, 7}); !reflect.DeepEqual(got, []Range{{3, 7}}) {
		t.Errorf("empty set Subtract = %v", got)
	}
}

func TestSet_Remove(t *testing.T) {
	s := Merge(Range{0, 9})

	if got := s.Remove(Range{4, 4}); !reflect.DeepEqual(got, Set{{0, 3}, {5, 9}}) {
		t.Errorf("Remove middle = %v", got)
	}
	if got := s.Remove(Range{0, 9}); got != nil {
		t.Errorf("Remove all = %v, want nil", got)
	}
	if !reflect.DeepEqual(s, Set{{0, 9}}) {
		t.Errorf("receiver mutated: %v", s)
	}
}

func TestSet_ShiftFrom(t *testing.T) {
	tests := []struct {
		name  string
		in    Set
		from  int
		delta int
		want  Set
	}{
		{name: "compact inside range", in: Set{{0, 9}}, from: 5, delta: -1, want: Set{{0, 8}}},
		{name: "compact first index", in: Set{{0, 9}}, from: 0, delta: -1, want: Set{{0, 8}}},
		{name: "compact shifts later ranges", in: Set{{0, 9}, {20, 29}}, from: 3, delta: -1, want: Set{{0, 8}, {19, 28}}},
		{name: "compact closes gap", in: Set{{0, 9}, {11, 19}}, from: 10, delta: -1, want: Set{{0, 18}}},
		{name: "insert at front", in: Set{{0, 9}}, from: 0, delta: 1, want: Set{{1, 10}}},
		{name: "insert in middle", in: Set{{0, 9}}, from: 5, delta: 1, want: Set{{0, 4}, {6, 10}}},
		{name: "zero delta", in: Set{{2, 3}}, from: 0, delta: 0, want: Set{{2, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.ShiftFrom(tt.from, tt.delta)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ShiftFrom(%d, %d) on %v = %v, want %v", tt.from, tt.delta, tt.in, got, tt.want)
			}
		})
	}
}

func randomRanges(r *rand.Rand) []Range {
	n := r.Intn(8)
	out := make([]Range, n)
	for i := range out {
		start := r.Intn(60)
		out[i] = Range{Start: start, End: start + r.Intn(12)}
	}
	return out
}

func covered(ranges []Range) map[int]bool {
	m := make(map[int]bool)
	for _, r := range ranges {
		for i := r.Start; i <= r.End; i++ {
			m[i] = true
		}
	}
	return m
}

func TestMerge_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		in := randomRanges(rng)
		out := Merge(in...)

		for i := 1; i < len(out); i++ {
			if out[i].Start <= out[i-1].End+1 {
				t.Fatalf("ranges %v and %v overlap or touch (input %v)", out[i-1], out[i], in)
			}
		}

		if !reflect.DeepEqual(covered(in), covered(out)) {
			t.Fatalf("Merge changed covered indices: in %v out %v", in, out)
		}
	}
}

func TestSubtract_CoverageInverse(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 500; iter++ {
		s := Merge(randomRanges(rng)...)
		start := rng.Intn(70)
		want := Range{Start: start, End: start + rng.Intn(20)}

		missing := s.Subtract(want)
		for _, m := range missing {
			for i := m.Start; i <= m.End; i++ {
				if s.Has(i) {
					t.Fatalf("Subtract returned covered index %d (set %v want %v)", i, s, want)
				}
			}
		}

		all := append(append([]Range(nil), s...), missing...)
		if !Merge(all...).Covers(want) {
			t.Fatalf("merge(ranges + missing) does not cover %v: set %v missing %v", want, s, missing)
		}
	}
}
