package detection

import "layering-detector/internal/domain"

// group is the ordered event sequence of one (account, product) pair.
type group struct {
	key    domain.GroupKey
	events []*domain.Event
}

// partition groups events by (account_id, product_id). Groups are returned in
// order of first appearance and events keep their input order; for input sorted
// by (account_id, product_id, timestamp) this is sorted key order.
func partition(events []*domain.Event) []group {
	var groups []group
	index := make(map[domain.GroupKey]int)

	for _, e := range events {
		if e == nil {
			continue
		}
		key := e.Key()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, group{key: key})
		}
		groups[i].events = append(groups[i].events, e)
	}

	return groups
}
