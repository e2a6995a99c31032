package forest

import "github.com/hpungsan/sugya/internal/citation"

// DuplicateGroup is a set of trees whose roots share a canonical key.
type DuplicateGroup struct {
	CanonicalKey string  `json:"canonical_key"`
	Trees        []*Tree `json:"trees"`
}

// FindMatch returns the first tree, in iteration order, whose root citation
// has the same canonical key as candidate. Matching is exact on the key; a
// fuzzy match here would attach content to the wrong passage.
// Returns nil when the forest is empty, nothing matches, or the candidate has
// no identifying content.
func FindMatch(trees []*Tree, candidate string) *Tree {
	key := citation.Key(candidate)
	if key == "" {
		return nil
	}
	for _, t := range trees {
		if t != nil && t.Key() == key {
			return t
		}
	}
	return nil
}

// FindDuplicateGroups groups the forest by canonical root key in one pass and
// returns only the keys shared by more than one tree. Groups are ordered by the
// position of their first tree; trees keep forest order within a group.
func FindDuplicateGroups(trees []*Tree) []DuplicateGroup {
	byKey := make(map[string][]*Tree, len(trees))
	order := make([]string, 0, len(trees))

	for _, t := range trees {
		if t == nil {
			continue
		}
		key := t.Key()
		if key == "" {
			continue
		}
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], t)
	}

	groups := make([]DuplicateGroup, 0)
	for _, key := range order {
		if members := byKey[key]; len(members) > 1 {
			groups = append(groups, DuplicateGroup{CanonicalKey: key, Trees: members})
		}
	}
	return groups
}
