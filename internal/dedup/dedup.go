package dedup

import "tenderwatch/internal/domain"

// FilterNew drops entries whose link is in seen or repeats an earlier entry of the same
// batch. Order is preserved and seen is not modified; the returned set holds seen plus every
// kept link.
func FilterNew(
	entries []domain.MatchedEntry,
	seen domain.SeenSet,
) ([]domain.MatchedEntry, domain.SeenSet) {
	return FilterNewFunc(entries, seen, func(e domain.MatchedEntry) string { return e.Link })
}

func FilterNewFunc[T any](
	items []T,
	seen domain.SeenSet,
	link func(T) string,
) ([]T, domain.SeenSet) {
	updated := make(domain.SeenSet, len(seen)+len(items))
	for l := range seen {
		updated[l] = struct{}{}
	}

	var fresh []T
	for _, item := range items {
		l := link(item)
		if l == "" || updated.Has(l) {
			continue
		}

		updated[l] = struct{}{}
		fresh = append(fresh, item)
	}

	return fresh, updated
}
