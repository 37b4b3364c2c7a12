package registry

import (
	"encoding/json"
	"sort"
)

// Capabilities is a set of opaque capability tags. Agents advertise a set,
// tasks require one, and matching is a superset query (ContainsAll).
type Capabilities map[string]struct{}

// NewCapabilities builds a set from the given tags.
func NewCapabilities(tags ...string) Capabilities {
	c := make(Capabilities, len(tags))
	for _, tag := range tags {
		c[tag] = struct{}{}
	}
	return c
}

// Add inserts a tag into the set.
func (c Capabilities) Add(tag string) {
	c[tag] = struct{}{}
}

// Contains reports whether the set holds the given tag.
func (c Capabilities) Contains(tag string) bool {
	_, ok := c[tag]
	return ok
}

// ContainsAll reports whether c is a superset of required.
// An empty requirement set is satisfied by any set.
func (c Capabilities) ContainsAll(required Capabilities) bool {
	for tag := range required {
		if _, ok := c[tag]; !ok {
			return false
		}
	}
	return true
}

// List returns the tags in sorted order.
func (c Capabilities) List() []string {
	tags := make([]string, 0, len(c))
	for tag := range c {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Clone returns an independent copy of the set.
func (c Capabilities) Clone() Capabilities {
	if c == nil {
		return nil
	}
	cp := make(Capabilities, len(c))
	for tag := range c {
		cp[tag] = struct{}{}
	}
	return cp
}

// MarshalJSON encodes the set as a sorted JSON array of tags.
func (c Capabilities) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.List())
}

// UnmarshalJSON decodes a JSON array of tags into the set.
func (c *Capabilities) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*c = NewCapabilities(tags...)
	return nil
}
