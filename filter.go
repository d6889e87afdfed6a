package nostr

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// TagMap holds the "#x" tag-filter clauses of a Filter, keyed by tag name
// without the leading '#'.
type TagMap map[string][]string

// Filter is a NIP-01 filter used both to subscribe to a relay and, inside the
// authorization pipeline, to describe what an approved signing session may touch.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Tags    TagMap
	Since   *Timestamp
	Until   *Timestamp
	Limit   int
	Search  string
}

// Filters is a set of filters combined with OR semantics, as sent in a REQ message.
type Filters []Filter

// Matches reports whether any filter in the set accepts the event.
func (filters Filters) Matches(event *Event) bool {
	for _, filter := range filters {
		if filter.Matches(event) {
			return true
		}
	}
	return false
}

// Matches reports whether the event satisfies every clause present in the filter.
// A clause that is nil/zero is not checked (it doesn't constrain anything).
func (f Filter) Matches(event *Event) bool {
	if event == nil {
		return false
	}

	if f.IDs != nil && !prefixMatchAny(f.IDs, event.ID) {
		return false
	}

	if f.Kinds != nil && !containsInt(f.Kinds, event.Kind) {
		return false
	}

	if f.Authors != nil && !prefixMatchAny(f.Authors, event.PubKey) {
		return false
	}

	for tagName, values := range f.Tags {
		if !event.Tags.ContainsAny(tagName, values) {
			return false
		}
	}

	if f.Since != nil && event.CreatedAt < *f.Since {
		return false
	}

	if f.Until != nil && event.CreatedAt > *f.Until {
		return false
	}

	return true
}

func prefixMatchAny(prefixes []string, value string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(value, p) {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// FilterEqual reports whether two filters describe the same subscription,
// ignoring the order of Kinds, IDs, Authors and per-tag value lists.
func FilterEqual(a, b Filter) bool {
	if !intSetEqual(a.Kinds, b.Kinds) {
		return false
	}
	if !stringSetEqual(a.IDs, b.IDs) {
		return false
	}
	if !stringSetEqual(a.Authors, b.Authors) {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for k, v := range a.Tags {
		if !stringSetEqual(v, b.Tags[k]) {
			return false
		}
	}
	if !timestampPtrEqual(a.Since, b.Since) {
		return false
	}
	if !timestampPtrEqual(a.Until, b.Until) {
		return false
	}
	return a.Limit == b.Limit && a.Search == b.Search
}

func timestampPtrEqual(a, b *Timestamp) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intSetEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := append([]int{}, a...), append([]int{}, b...)
	sort.Ints(as)
	sort.Ints(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := append([]string{}, a...), append([]string{}, b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// MarshalJSON renders the filter the way relays and NIP-46 peers expect it on the wire.
func (f Filter) MarshalJSON() ([]byte, error) {
	w := &bytes.Buffer{}
	w.WriteByte('{')
	first := true

	writeComma := func() {
		if !first {
			w.WriteByte(',')
		}
		first = false
	}

	if f.IDs != nil {
		writeComma()
		w.WriteString(`"ids":`)
		json.NewEncoder(w).Encode(f.IDs)
		w.Truncate(w.Len() - 1)
	}
	if f.Authors != nil {
		writeComma()
		w.WriteString(`"authors":`)
		json.NewEncoder(w).Encode(f.Authors)
		w.Truncate(w.Len() - 1)
	}
	if f.Kinds != nil {
		writeComma()
		w.WriteString(`"kinds":`)
		json.NewEncoder(w).Encode(f.Kinds)
		w.Truncate(w.Len() - 1)
	}
	if f.Since != nil {
		writeComma()
		w.WriteString(`"since":`)
		w.WriteString(strconv.FormatInt(int64(*f.Since), 10))
	}
	if f.Until != nil {
		writeComma()
		w.WriteString(`"until":`)
		w.WriteString(strconv.FormatInt(int64(*f.Until), 10))
	}
	if f.Limit != 0 {
		writeComma()
		w.WriteString(`"limit":`)
		w.WriteString(strconv.Itoa(f.Limit))
	}
	if f.Tags != nil {
		keys := make([]string, 0, len(f.Tags))
		for k := range f.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeComma()
			w.WriteString(`"#`)
			w.WriteString(k)
			w.WriteString(`":`)
			json.NewEncoder(w).Encode(f.Tags[k])
			w.Truncate(w.Len() - 1)
		}
	}
	if f.Search != "" {
		writeComma()
		w.WriteString(`"search":`)
		json.NewEncoder(w).Encode(f.Search)
		w.Truncate(w.Len() - 1)
	}

	w.WriteByte('}')
	return w.Bytes(), nil
}

// UnmarshalJSON parses a filter object, folding any "#x" key into Tags["x"].
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*f = Filter{}

	for key, val := range raw {
		switch key {
		case "ids":
			if err := json.Unmarshal(val, &f.IDs); err != nil {
				return err
			}
		case "authors":
			if err := json.Unmarshal(val, &f.Authors); err != nil {
				return err
			}
		case "kinds":
			if err := json.Unmarshal(val, &f.Kinds); err != nil {
				return err
			}
		case "since":
			if err := json.Unmarshal(val, &f.Since); err != nil {
				return err
			}
		case "until":
			if err := json.Unmarshal(val, &f.Until); err != nil {
				return err
			}
		case "limit":
			if err := json.Unmarshal(val, &f.Limit); err != nil {
				return err
			}
		case "search":
			if err := json.Unmarshal(val, &f.Search); err != nil {
				return err
			}
		default:
			if strings.HasPrefix(key, "#") && len(key) > 1 {
				var values []string
				if err := json.Unmarshal(val, &values); err != nil {
					return err
				}
				if f.Tags == nil {
					f.Tags = make(TagMap)
				}
				f.Tags[key[1:]] = values
			}
		}
	}

	return nil
}
