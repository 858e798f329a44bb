// Package queue orders tasks by the phase/sequence key parsed from their
// titles and decides which task may run next.
package queue

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/thruflo/autocoder/internal/state"
)

// Kind classifies how a task's key was derived. Kinds sort in declaration
// order: meta first, then numeric phases, then identifier phases, then
// tasks with no recognisable key.
type Kind int

const (
	KindMeta Kind = iota
	KindNumeric
	KindIdentifier
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "meta"
	case KindNumeric:
		return "numeric"
	case KindIdentifier:
		return "identifier"
	case KindFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Key is the sort key of a task.
type Key struct {
	Kind     Kind
	Phase    int
	Sequence int
	Ident    string
	Priority int
}

var (
	bracketPattern = regexp.MustCompile(`\[([A-Za-z][A-Za-z0-9_]*)-(\d+)\.(\d+)\]`)
	leadingPattern = regexp.MustCompile(`^\s*(\d+)\.(\d+)\s*:`)
	phasePattern   = regexp.MustCompile(`(?i)\bphase\s+(\d+)(?:\.(\d+))?\b`)
	rawPhase       = regexp.MustCompile(`^\s*(\d+)(?:\.(\d+))?\s*$`)
	identPattern   = regexp.MustCompile(`^\s*\[?([A-Z][A-Z0-9]*-\d+)\]?(?:\s|:|$)`)
)

// IsMeta reports whether t is the project meta marker.
func IsMeta(t *state.Task) bool {
	if t.Meta {
		return true
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(t.Title)), "[META]")
}

// ParseKey computes the key of a task. Title patterns are tried in order:
// "[PREFIX-P.S]", a leading "P.S:", "Phase P.S", then the task's raw Phase
// field, then a bare identifier such as "ENG-123". Anything else gets the
// fallback kind.
func ParseKey(t *state.Task) Key {
	k := Key{Priority: t.Priority}
	if IsMeta(t) {
		k.Kind = KindMeta
		return k
	}

	for _, re := range []*regexp.Regexp{bracketPattern, leadingPattern} {
		if m := re.FindStringSubmatch(t.Title); m != nil {
			k.Kind = KindNumeric
			k.Phase = atoi(m[len(m)-2])
			k.Sequence = atoi(m[len(m)-1])
			return k
		}
	}
	if m := phasePattern.FindStringSubmatch(t.Title); m != nil {
		k.Kind = KindNumeric
		k.Phase = atoi(m[1])
		k.Sequence = atoi(m[2])
		return k
	}
	if m := rawPhase.FindStringSubmatch(t.Phase); m != nil {
		k.Kind = KindNumeric
		k.Phase = atoi(m[1])
		k.Sequence = atoi(m[2])
		return k
	}
	if m := identPattern.FindStringSubmatch(t.Title); m != nil {
		k.Kind = KindIdentifier
		k.Ident = m[1]
		return k
	}

	k.Kind = KindFallback
	k.Phase = math.MaxInt
	return k
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return math.MaxInt
	}
	return n
}

// String renders the key for display.
func (k Key) String() string {
	switch k.Kind {
	case KindMeta:
		return "meta"
	case KindNumeric:
		return fmt.Sprintf("%d.%d", k.Phase, k.Sequence)
	case KindIdentifier:
		return k.Ident
	default:
		return "-"
	}
}

// comparePhase orders the phase component of two keys.
func comparePhase(a, b Key) int {
	if a.Kind != b.Kind {
		return cmpInt(int(a.Kind), int(b.Kind))
	}
	switch a.Kind {
	case KindNumeric:
		return cmpInt(a.Phase, b.Phase)
	case KindIdentifier:
		return strings.Compare(a.Ident, b.Ident)
	default:
		return 0
	}
}

// SamePhase reports whether a and b belong to the same phase.
func SamePhase(a, b Key) bool {
	return comparePhase(a, b) == 0
}

// comparePriority puts lower positive priorities first and unset (zero or
// negative) priorities last.
func comparePriority(a, b int) int {
	if a <= 0 && b <= 0 {
		return 0
	}
	if a <= 0 {
		return 1
	}
	if b <= 0 {
		return -1
	}
	return cmpInt(a, b)
}

// Less reports whether a sorts strictly before b.
func Less(a, b Key) bool {
	if c := comparePhase(a, b); c != 0 {
		return c < 0
	}
	if c := cmpInt(a.Sequence, b.Sequence); c != 0 {
		return c < 0
	}
	return comparePriority(a.Priority, b.Priority) < 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// keyed pairs tasks with their precomputed keys for sorting.
type keyed struct {
	tasks []state.Task
	keys  []Key
}

func (s keyed) Len() int           { return len(s.tasks) }
func (s keyed) Less(i, j int) bool { return Less(s.keys[i], s.keys[j]) }
func (s keyed) Swap(i, j int) {
	s.tasks[i], s.tasks[j] = s.tasks[j], s.tasks[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}

// Sort orders tasks in place. Tasks with equal keys keep their relative order.
func Sort(tasks []state.Task) {
	keys := make([]Key, len(tasks))
	for i := range tasks {
		keys[i] = ParseKey(&tasks[i])
	}
	sort.Stable(keyed{tasks: tasks, keys: keys})
}

// Sorted returns an ordered copy of tasks.
func Sorted(tasks []state.Task) []state.Task {
	out := make([]state.Task, len(tasks))
	copy(out, tasks)
	Sort(out)
	return out
}
