package counting

// PickNextItem chooses the record to present after a count or skip.
//
// Order of preference:
//  1. the first pending record after current
//  2. the first pending record in [0, current)
//  3. none: ok is false and the caller stays on current
//
// Any current is accepted: below -1 acts as -1, past the end scans
// every record.
func PickNextItem(items []CountRecord, current int) (next int, ok bool) {
	if current < -1 {
		current = -1
	}
	for i := current + 1; i < len(items); i++ {
		if items[i].Status == ItemPending {
			return i, true
		}
	}
	for i := 0; i < current && i < len(items); i++ {
		if items[i].Status == ItemPending {
			return i, true
		}
	}
	return -1, false
}

// FirstPending returns the index of the first pending record, used when a
// count session opens. ok is false when nothing is pending.
func FirstPending(items []CountRecord) (int, bool) {
	for i, it := range items {
		if it.Status == ItemPending {
			return i, true
		}
	}
	return -1, false
}
