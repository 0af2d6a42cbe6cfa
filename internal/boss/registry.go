// Package boss holds the catalog of tracked bosses, their abbreviations and
// the rooms each one spawns in.
package boss

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	MaxBosses = 8
	MaxRooms  = 8
)

var ErrUnknownBoss = errors.New("unknown boss")

type Boss struct {
	Name    string
	Aliases []string
	Rooms   []int
}

// HasRoom reports whether room is one of the boss's configured rooms.
func (b Boss) HasRoom(room int) bool { return slices.Contains(b.Rooms, room) }

// Pair identifies one independent timer slot.
type Pair struct {
	Boss string
	Room int
}

func (p Pair) String() string { return fmt.Sprintf("%s #%d", p.Boss, p.Room) }

// Registry is immutable after New and safe for concurrent use.
type Registry struct {
	bosses  []Boss
	byName  map[string]int // lower(name) -> index
	byAlias map[string]int // lower(alias) -> index
}

func Default() []Boss {
	return []Boss{
		{Name: "Death Beam Knight", Aliases: []string{"dbk"}, Rooms: []int{1, 2, 3, 4}},
		{Name: "Hell Maine", Aliases: []string{"hm"}, Rooms: []int{1, 2, 3}},
		{Name: "Phoenix of Darkness", Aliases: []string{"pod", "phoenix"}, Rooms: []int{1, 2, 3}},
		{Name: "Genocider", Aliases: []string{"geno"}, Rooms: []int{1, 2}},
		{Name: "Selupan", Aliases: []string{"selu"}, Rooms: []int{1, 2}},
		{Name: "Medusa", Aliases: []string{"med"}, Rooms: []int{1, 2}},
		{Name: "Nightmare", Aliases: []string{"nm"}, Rooms: []int{1, 2}},
		{Name: "Kundun", Aliases: []string{"kun"}, Rooms: []int{1, 2}},
	}
}

// New validates the catalog. Rooms are copied and sorted ascending.
func New(bosses []Boss) (*Registry, error) {
	if len(bosses) == 0 {
		return nil, errors.New("boss catalog is empty")
	}
	if len(bosses) > MaxBosses {
		return nil, fmt.Errorf("boss catalog has %d entries (max %d)", len(bosses), MaxBosses)
	}

	r := &Registry{
		byName:  make(map[string]int, len(bosses)),
		byAlias: map[string]int{},
	}
	for i, b := range bosses {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			return nil, fmt.Errorf("boss #%d: empty name", i+1)
		}
		key := strings.ToLower(name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("boss %q: duplicate name", name)
		}
		if len(b.Rooms) == 0 || len(b.Rooms) > MaxRooms {
			return nil, fmt.Errorf("boss %q: needs 1..%d rooms, got %d", name, MaxRooms, len(b.Rooms))
		}
		rooms := slices.Clone(b.Rooms)
		slices.Sort(rooms)
		for j, room := range rooms {
			if room <= 0 {
				return nil, fmt.Errorf("boss %q: room %d must be positive", name, room)
			}
			if j > 0 && rooms[j-1] == room {
				return nil, fmt.Errorf("boss %q: duplicate room %d", name, room)
			}
		}
		r.byName[key] = i

		aliases := make([]string, 0, len(b.Aliases))
		for _, a := range b.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			if _, dup := r.byAlias[a]; dup {
				return nil, fmt.Errorf("boss %q: alias %q already used", name, a)
			}
			r.byAlias[a] = i
			aliases = append(aliases, a)
		}
		r.bosses = append(r.bosses, Boss{Name: name, Aliases: aliases, Rooms: rooms})
	}
	return r, nil
}

// Resolve maps user input to a boss: exact name, then alias, then the first
// catalog entry whose name contains the input (all case-insensitive).
func (r *Registry) Resolve(input string) (Boss, error) {
	q := strings.ToLower(strings.TrimSpace(input))
	if q == "" {
		return Boss{}, ErrUnknownBoss
	}
	if i, ok := r.byName[q]; ok {
		return r.boss(i), nil
	}
	if i, ok := r.byAlias[q]; ok {
		return r.boss(i), nil
	}
	for i, b := range r.bosses {
		if strings.Contains(strings.ToLower(b.Name), q) {
			return r.boss(i), nil
		}
	}
	return Boss{}, fmt.Errorf("%w: %q", ErrUnknownBoss, strings.TrimSpace(input))
}

func (r *Registry) boss(i int) Boss {
	b := r.bosses[i]
	b.Aliases = slices.Clone(b.Aliases)
	b.Rooms = slices.Clone(b.Rooms)
	return b
}

// Lookup finds a boss by canonical name only.
func (r *Registry) Lookup(name string) (Boss, bool) {
	i, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Boss{}, false
	}
	return r.boss(i), true
}

func (r *Registry) ValidRoom(name string, room int) bool {
	i, ok := r.byName[strings.ToLower(name)]
	return ok && r.bosses[i].HasRoom(room)
}

// Bosses returns the catalog in order.
func (r *Registry) Bosses() []Boss {
	out := make([]Boss, len(r.bosses))
	for i := range r.bosses {
		out[i] = r.boss(i)
	}
	return out
}

// Pairs lists every (boss, room) in catalog order, rooms ascending.
func (r *Registry) Pairs() []Pair {
	var out []Pair
	for _, b := range r.bosses {
		for _, room := range b.Rooms {
			out = append(out, Pair{Boss: b.Name, Room: room})
		}
	}
	return out
}

// Names returns the canonical boss names in catalog order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.bosses))
	for i, b := range r.bosses {
		out[i] = b.Name
	}
	return out
}
