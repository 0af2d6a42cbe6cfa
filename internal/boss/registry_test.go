package boss

import (
	"errors"
	"testing"
)

func mustDefault(t *testing.T) *Registry {
	t.Helper()
	r, err := New(Default())
	if err != nil {
		t.Fatalf("New(Default()): %v", err)
	}
	return r
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := mustDefault(t)
	cases := []struct {
		in   string
		want string
	}{
		{"Death Beam Knight", "Death Beam Knight"},
		{"  hell maine ", "Hell Maine"},
		{"DBK", "Death Beam Knight"},
		{"phoenix", "Phoenix of Darkness"},
		{"pod", "Phoenix of Darkness"},
		{"kund", "Kundun"},
		// substring: first catalog match wins ("a" appears in Death Beam Knight first)
		{"a", "Death Beam Knight"},
		{"night", "Death Beam Knight"},
		{"mare", "Nightmare"},
	}
	for _, tc := range cases {
		b, err := r.Resolve(tc.in)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tc.in, err)
		}
		if b.Name != tc.want {
			t.Fatalf("Resolve(%q) = %q, want %q", tc.in, b.Name, tc.want)
		}
	}

	for _, bad := range []string{"", "   ", "zzz"} {
		if _, err := r.Resolve(bad); !errors.Is(err, ErrUnknownBoss) {
			t.Fatalf("Resolve(%q) err = %v, want ErrUnknownBoss", bad, err)
		}
	}
}

func TestValidRoomAndPairs(t *testing.T) {
	t.Parallel()
	r := mustDefault(t)
	if !r.ValidRoom("Death Beam Knight", 4) || r.ValidRoom("Death Beam Knight", 5) {
		t.Fatal("Death Beam Knight rooms should be 1..4")
	}
	if r.ValidRoom("Kundun", 0) || r.ValidRoom("nobody", 1) {
		t.Fatal("unexpected valid room")
	}

	pairs := r.Pairs()
	if len(pairs) != 4+3+3+2+2+2+2+2 {
		t.Fatalf("len(pairs) = %d", len(pairs))
	}
	if pairs[0] != (Pair{Boss: "Death Beam Knight", Room: 1}) || pairs[len(pairs)-1] != (Pair{Boss: "Kundun", Room: 2}) {
		t.Fatalf("unexpected order: first=%v last=%v", pairs[0], pairs[len(pairs)-1])
	}
}

func TestNewRejectsBadCatalogs(t *testing.T) {
	t.Parallel()
	nine := make([]Boss, 9)
	for i := range nine {
		nine[i] = Boss{Name: string(rune('A' + i)), Rooms: []int{1}}
	}
	cases := map[string][]Boss{
		"empty":       nil,
		"too many":    nine,
		"blank name":  {{Name: " ", Rooms: []int{1}}},
		"dup name":    {{Name: "A", Rooms: []int{1}}, {Name: "a", Rooms: []int{1}}},
		"dup alias":   {{Name: "A", Aliases: []string{"x"}, Rooms: []int{1}}, {Name: "B", Aliases: []string{"X"}, Rooms: []int{1}}},
		"no rooms":    {{Name: "A"}},
		"zero room":   {{Name: "A", Rooms: []int{0}}},
		"dup room":    {{Name: "A", Rooms: []int{2, 2}}},
		"rooms > max": {{Name: "A", Rooms: []int{1, 2, 3, 4, 5, 6, 7, 8, 9}}},
	}
	for name, bosses := range cases {
		if _, err := New(bosses); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestRoomsSortedAndCopied(t *testing.T) {
	t.Parallel()
	in := []Boss{{Name: "A", Rooms: []int{3, 1, 2}}}
	r, err := New(in)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Lookup("a")
	if b.Rooms[0] != 1 || b.Rooms[2] != 3 {
		t.Fatalf("rooms not sorted: %v", b.Rooms)
	}
	b.Rooms[0] = 99
	if again, _ := r.Lookup("A"); again.Rooms[0] != 1 {
		t.Fatal("registry leaked internal slice")
	}
}
