// Package tag implements hierarchical gameplay tags, tag containers and the
// reference-counted tag ledger used for every gating decision.
package tag

import (
	"slices"
	"strings"
)

// Separator splits a tag into hierarchy levels.
const Separator = "."

// Tag is a hierarchical identifier such as "State.Debuff.Stunned".
type Tag string

// IsValid reports whether t is a well-formed tag: non-empty with no empty segment.
func (t Tag) IsValid() bool {
	if t == "" {
		return false
	}
	for _, part := range strings.Split(string(t), Separator) {
		if part == "" {
			return false
		}
	}
	return true
}

// Parent returns the direct parent tag, or "" for a root tag.
func (t Tag) Parent() Tag {
	i := strings.LastIndex(string(t), Separator)
	if i < 0 {
		return ""
	}
	return t[:i]
}

// MatchesTag reports whether t equals other or is a descendant of it.
// "State.Stunned" matches "State" but "State" does not match "State.Stunned".
func (t Tag) MatchesTag(other Tag) bool {
	if other == "" {
		return false
	}
	if t == other {
		return true
	}
	return strings.HasPrefix(string(t), string(other)+Separator)
}

// MatchesExact reports exact equality.
func (t Tag) MatchesExact(other Tag) bool {
	return other != "" && t == other
}

// Container is an ordered set of unique tags. The zero value is empty and ready
// to use. Containers are values; mutating methods work on the receiver.
type Container struct {
	tags []Tag
}

// NewContainer builds a container from tags, skipping invalid and duplicate ones.
func NewContainer(tags ...Tag) Container {
	var c Container
	for _, t := range tags {
		c.Add(t)
	}
	return c
}

// Add inserts t. Returns false if t is invalid or already present.
func (c *Container) Add(t Tag) bool {
	if !t.IsValid() || slices.Contains(c.tags, t) {
		return false
	}
	// Clip so copies of a container never share a backing array.
	c.tags = append(slices.Clip(c.tags), t)
	return true
}

// Remove deletes t. Returns false if t was not present.
func (c *Container) Remove(t Tag) bool {
	i := slices.Index(c.tags, t)
	if i < 0 {
		return false
	}
	c.tags = slices.Delete(slices.Clone(c.tags), i, i+1)
	return true
}

// AppendContainer adds every tag of other.
func (c *Container) AppendContainer(other Container) {
	for _, t := range other.tags {
		c.Add(t)
	}
}

// Len returns the number of tags.
func (c Container) Len() int { return len(c.tags) }

// IsEmpty reports whether the container has no tags.
func (c Container) IsEmpty() bool { return len(c.tags) == 0 }

// Tags returns a copy of the tags in insertion order.
func (c Container) Tags() []Tag { return slices.Clone(c.tags) }

// HasTag reports whether any tag in c matches t hierarchically.
func (c Container) HasTag(t Tag) bool {
	for _, own := range c.tags {
		if own.MatchesTag(t) {
			return true
		}
	}
	return false
}

// HasTagExact reports whether t is present as-is.
func (c Container) HasTagExact(t Tag) bool {
	return t != "" && slices.Contains(c.tags, t)
}

// HasAll reports whether every tag of query is matched. An empty query is satisfied.
func (c Container) HasAll(query Container) bool {
	for _, t := range query.tags {
		if !c.HasTag(t) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one tag of query is matched. An empty query never is.
func (c Container) HasAny(query Container) bool {
	for _, t := range query.tags {
		if c.HasTag(t) {
			return true
		}
	}
	return false
}

// HasAllExact is HasAll without hierarchy expansion.
func (c Container) HasAllExact(query Container) bool {
	for _, t := range query.tags {
		if !c.HasTagExact(t) {
			return false
		}
	}
	return true
}

// HasAnyExact is HasAny without hierarchy expansion.
func (c Container) HasAnyExact(query Container) bool {
	for _, t := range query.tags {
		if c.HasTagExact(t) {
			return true
		}
	}
	return false
}

// String joins the tags with commas.
func (c Container) String() string {
	parts := make([]string, len(c.tags))
	for i, t := range c.tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
