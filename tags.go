package nostr

import (
	"encoding/json"
	"errors"
	"iter"
	"slices"
)

// Tag is a single Nostr tag: a list of strings, e.g. ["p", "<pubkey>"].
type Tag []string

// Tags is the ordered list of tags on an event.
type Tags []Tag

// Find returns the first tag with the given key that also has a value (at least 2 items).
func (tags Tags) Find(key string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == key {
			return v
		}
	}
	return nil
}

// FindAll yields all tags with the given key that also have a value.
func (tags Tags) FindAll(key string) iter.Seq[Tag] {
	return func(yield func(Tag) bool) {
		for _, v := range tags {
			if len(v) >= 2 && v[0] == key {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// FindWithValue is like Find but also requires the value to match.
func (tags Tags) FindWithValue(key, value string) Tag {
	for _, v := range tags {
		if len(v) >= 2 && v[0] == key && v[1] == value {
			return v
		}
	}
	return nil
}

// ContainsAny reports whether any tag with the given name has one of the given values.
func (tags Tags) ContainsAny(tagName string, values []string) bool {
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != tagName {
			continue
		}
		if slices.Contains(values, tag[1]) {
			return true
		}
	}
	return false
}

// Clone creates a new slice with clones of these tags inside.
func (tags Tags) Clone() Tags {
	newArr := make(Tags, len(tags))
	for i := range newArr {
		newArr[i] = tags[i].Clone()
	}
	return newArr
}

// Clone creates a new tag with the same items.
func (tag Tag) Clone() Tag {
	newArr := make(Tag, len(tag))
	copy(newArr, tag)
	return newArr
}

// Scan implements sql.Scanner so Tags can be stored as a JSON column.
func (tags *Tags) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*tags = nil
		return nil
	default:
		return errors.New("nostr: cannot scan tags, source is not a JSON string")
	}
	return json.Unmarshal(raw, tags)
}

// marshalTo appends the canonical JSON array-of-arrays encoding of tags to dst.
func (tags Tags) marshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tag := range tags {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '[')
		for j, item := range tag {
			if j > 0 {
				dst = append(dst, ',')
			}
			dst = escapeString(dst, item)
		}
		dst = append(dst, ']')
	}
	dst = append(dst, ']')
	return dst
}
