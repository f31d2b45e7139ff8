package collector

// OrderedSet is a set of strings that remembers first-seen order.
// The zero value is an empty set.
type OrderedSet struct {
	items []string
	index map[string]struct{}
}

// NewOrderedSet builds a set from items, dropping duplicates
func NewOrderedSet(items ...string) OrderedSet {
	set, _ := Merge(OrderedSet{}, items)
	return set
}

// Len returns the number of distinct items
func (s OrderedSet) Len() int {
	return len(s.items)
}

// Items returns the items in first-seen order
func (s OrderedSet) Items() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// Last returns the most recently added item
func (s OrderedSet) Last() (string, bool) {
	if len(s.items) == 0 {
		return "", false
	}
	return s.items[len(s.items)-1], true
}

// Contains reports whether item is in the set
func (s OrderedSet) Contains(item string) bool {
	_, ok := s.index[item]
	return ok
}

// Merge returns acc extended with the items it has not seen, in the order they
// appear, and how many were added. acc itself is left unchanged.
func Merge(acc OrderedSet, items []string) (OrderedSet, int) {
	merged := OrderedSet{
		items: make([]string, len(acc.items), len(acc.items)+len(items)),
		index: make(map[string]struct{}, len(acc.items)+len(items)),
	}
	copy(merged.items, acc.items)
	for _, item := range acc.items {
		merged.index[item] = struct{}{}
	}

	added := 0
	for _, item := range items {
		if _, seen := merged.index[item]; seen {
			continue
		}
		merged.index[item] = struct{}{}
		merged.items = append(merged.items, item)
		added++
	}
	return merged, added
}
