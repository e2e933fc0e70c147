package bagel

import "strings"

// LiveQuery scopes a live stream subscription. It is a value: Item and
// Nested return a new query and leave the receiver untouched.
type LiveQuery struct {
	collectionID string
	nestedIDs    []string
	itemID       string
}

// Collection starts a query on collectionID.
func Collection(collectionID string) LiveQuery {
	return LiveQuery{collectionID: collectionID}
}

// Item narrows the subscription to a single item.
func (q LiveQuery) Item(itemID string) LiveQuery {
	q.itemID = itemID

	return q
}

// Nested descends into a nested collection of the current item.
func (q LiveQuery) Nested(nestedID string) LiveQuery {
	ids := make([]string, len(q.nestedIDs), len(q.nestedIDs)+1)
	copy(ids, q.nestedIDs)
	q.nestedIDs = append(ids, nestedID)

	return q
}

// CollectionID returns the top-level collection.
func (q LiveQuery) CollectionID() string {
	return q.collectionID
}

// ItemID returns the item filter, possibly empty.
func (q LiveQuery) ItemID() string {
	return q.itemID
}

// NestedID returns the nested collection path joined with dots.
func (q LiveQuery) NestedID() string {
	return strings.Join(q.nestedIDs, ".")
}
