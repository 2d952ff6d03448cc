package tag

import (
	"fmt"
	"slices"

	"github.com/gobwas/glob"
)

// Change describes one transition of the contained tag set.
type Change struct {
	Added   []Tag
	Removed []Tag
}

// Ledger is a reference-counted tag set. A tag is contained while its count
// is positive. Listeners fire only when the contained set changes, never on
// a count change that keeps a tag present or absent.
//
// Not safe for concurrent use: the ledger lives on the simulation thread.
type Ledger struct {
	counts    map[Tag]int
	order     []Tag
	listeners []func(Change)
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{counts: make(map[Tag]int)}
}

// OnChanged registers fn to be called after each call that changed the set.
func (l *Ledger) OnChanged(fn func(Change)) {
	if fn != nil {
		l.listeners = append(l.listeners, fn)
	}
}

// AddTag increments t by count (values below 1 count as 1).
func (l *Ledger) AddTag(t Tag, count int) {
	var ch Change
	l.add(t, count, &ch)
	l.notify(ch)
}

// RemoveTag decrements t by count (values below 1 count as 1). Removing more
// than present truncates to zero and evicts the entry.
func (l *Ledger) RemoveTag(t Tag, count int) {
	var ch Change
	l.remove(t, count, &ch)
	l.notify(ch)
}

// AddTags increments every tag of c by count and notifies once.
func (l *Ledger) AddTags(c Container, count int) {
	var ch Change
	for _, t := range c.tags {
		l.add(t, count, &ch)
	}
	l.notify(ch)
}

// RemoveTags decrements every tag of c by count and notifies once.
func (l *Ledger) RemoveTags(c Container, count int) {
	var ch Change
	for _, t := range c.tags {
		l.remove(t, count, &ch)
	}
	l.notify(ch)
}

// Reset replaces the contained set with c, each tag at count one, and
// notifies once. Used by mirrors that receive the set from the authority.
func (l *Ledger) Reset(c Container) {
	var ch Change
	for _, t := range slices.Clone(l.order) {
		if !c.HasTagExact(t) {
			l.remove(t, l.counts[t], &ch)
		}
	}
	for _, t := range c.tags {
		if l.counts[t] == 0 {
			l.add(t, 1, &ch)
		} else {
			l.counts[t] = 1
		}
	}
	l.notify(ch)
}

// Count returns the reference count of t (exact, no hierarchy).
func (l *Ledger) Count(t Tag) int { return l.counts[t] }

// Len returns the number of contained tags.
func (l *Ledger) Len() int { return len(l.order) }

// HasTag reports whether a contained tag matches t hierarchically.
func (l *Ledger) HasTag(t Tag) bool {
	if l.counts[t] > 0 {
		return true
	}
	for _, own := range l.order {
		if own.MatchesTag(t) {
			return true
		}
	}
	return false
}

// HasTagExact reports whether t itself is contained.
func (l *Ledger) HasTagExact(t Tag) bool { return l.counts[t] > 0 }

// HasAll reports whether all tags of query are matched. Empty query is true.
func (l *Ledger) HasAll(query Container) bool {
	for _, t := range query.tags {
		if !l.HasTag(t) {
			return false
		}
	}
	return true
}

// HasAny reports whether any tag of query is matched. Empty query is false.
func (l *Ledger) HasAny(query Container) bool {
	for _, t := range query.tags {
		if l.HasTag(t) {
			return true
		}
	}
	return false
}

// Tags returns the contained tags in first-added order.
func (l *Ledger) Tags() Container {
	return Container{tags: slices.Clone(l.order)}
}

// Match returns the contained tags matching p.
func (l *Ledger) Match(p Pattern) []Tag {
	var out []Tag
	for _, t := range l.order {
		if p.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

func (l *Ledger) add(t Tag, count int, ch *Change) {
	if !t.IsValid() {
		return
	}
	if count < 1 {
		count = 1
	}
	prev := l.counts[t]
	l.counts[t] = prev + count
	if prev == 0 {
		l.order = append(l.order, t)
		ch.Added = append(ch.Added, t)
	}
}

func (l *Ledger) remove(t Tag, count int, ch *Change) {
	prev, ok := l.counts[t]
	if !ok {
		return
	}
	if count < 1 {
		count = 1
	}
	next := prev - count
	if next > 0 {
		l.counts[t] = next
		return
	}
	delete(l.counts, t)
	if i := slices.Index(l.order, t); i >= 0 {
		l.order = slices.Delete(l.order, i, i+1)
	}
	ch.Removed = append(ch.Removed, t)
}

func (l *Ledger) notify(ch Change) {
	if len(ch.Added) == 0 && len(ch.Removed) == 0 {
		return
	}
	for _, fn := range l.listeners {
		fn(ch)
	}
}

// Pattern is a compiled tag glob such as "State.*" or "Cooldown.**".
// A single star matches within one level, a double star across levels.
type Pattern struct {
	source string
	g      glob.Glob
}

// CompilePattern compiles a tag glob using the tag separator.
func CompilePattern(pattern string) (Pattern, error) {
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return Pattern{}, fmt.Errorf("compiling tag pattern %q: %w", pattern, err)
	}
	return Pattern{source: pattern, g: g}, nil
}

// MustCompilePattern is CompilePattern that panics on error. For static patterns.
func MustCompilePattern(pattern string) Pattern {
	p, err := CompilePattern(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether t matches the pattern. The zero Pattern matches nothing.
func (p Pattern) Match(t Tag) bool {
	if p.g == nil {
		return false
	}
	return p.g.Match(string(t))
}

// String returns the source pattern.
func (p Pattern) String() string { return p.source }
