package mirror

import (
	"bytes"

	"ecoroster/console/internal/store"
)

// diff compares two views by id. Added and Modified follow the order of next, Removed the order of prev.
func diff(prev, next []store.Document) Changes {
	before := make(map[string][]byte, len(prev))
	for _, d := range prev {
		before[d.ID] = d.Data
	}

	var c Changes
	present := make(map[string]struct{}, len(next))
	for _, d := range next {
		present[d.ID] = struct{}{}
		old, ok := before[d.ID]
		switch {
		case !ok:
			c.Added = append(c.Added, d.ID)
		case !bytes.Equal(old, d.Data):
			c.Modified = append(c.Modified, d.ID)
		}
	}
	for _, d := range prev {
		if _, ok := present[d.ID]; !ok {
			c.Removed = append(c.Removed, d.ID)
		}
	}
	return c
}
