package palette

import "testing"

// TestDeterministicAssignment checks two palettes built from the same
// inputs agree color-for-color.
func TestDeterministicAssignment(t *testing.T) {
	classes := []string{"person", "bicycle", "car", "dog", "chair"}

	a := New(classes, DefaultSeed)
	b := New(classes, DefaultSeed)

	for i := range classes {
		if a.Color(i) != b.Color(i) {
			t.Errorf("class %d: colors differ between identical palettes", i)
		}
	}
}

// TestDistinctColors checks every class gets its own color.
func TestDistinctColors(t *testing.T) {
	classes := make([]string, 20)
	for i := range classes {
		classes[i] = string(rune('a' + i))
	}

	p := New(classes, DefaultSeed)
	seen := make(map[[3]uint8]int)
	for i := range classes {
		c := p.Color(i)
		key := [3]uint8{c.R, c.G, c.B}
		if prev, ok := seen[key]; ok {
			t.Errorf("classes %d and %d share color %v", prev, i, c)
		}
		seen[key] = i
	}
}

// TestOutOfRangeFallbacks checks lookups never panic on bad indexes.
func TestOutOfRangeFallbacks(t *testing.T) {
	p := New([]string{"person"}, DefaultSeed)

	if got := p.Class(-1); got != "" {
		t.Errorf("Class(-1) = %q, want empty", got)
	}
	if got := p.Class(5); got != "" {
		t.Errorf("Class(5) = %q, want empty", got)
	}
	c := p.Color(99)
	if c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("Color(99) = %v, want white fallback", c)
	}
}
