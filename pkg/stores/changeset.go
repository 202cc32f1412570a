package stores

import (
	"sort"
)

// changeSet holds mutations staged since the last successful flush.
//
// A record id lives in at most one of inserted, updated, deleted. Inserted
// records are kept in creation (ascending id) order.
type changeSet struct {
	inserted []Record
	updated  map[int64]Record
	deleted  map[int64]struct{}
}

func newChangeSet() *changeSet {
	return &changeSet{
		updated: make(map[int64]Record),
		deleted: make(map[int64]struct{}),
	}
}

// size is the number of staged row changes.
func (c *changeSet) size() int {
	return len(c.inserted) + len(c.updated) + len(c.deleted)
}

func (c *changeSet) reset() {
	c.inserted = nil
	c.updated = make(map[int64]Record)
	c.deleted = make(map[int64]struct{})
}

func (c *changeSet) insert(rec Record) {
	c.inserted = append(c.inserted, rec)
}

func (c *changeSet) insertedIndex(id int64) int {
	i := sort.Search(len(c.inserted), func(i int) bool { return c.inserted[i].ID >= id })
	if i < len(c.inserted) && c.inserted[i].ID == id {
		return i
	}
	return -1
}

// replace stages rec as the new state of a record. An unflushed insert is
// amended in place so it is still written as a single insert.
func (c *changeSet) replace(rec Record) {
	if i := c.insertedIndex(rec.ID); i >= 0 {
		c.inserted[i] = rec
		return
	}
	c.updated[rec.ID] = rec
}

// remove stages the deletion of id. Removing an unflushed insert cancels it.
func (c *changeSet) remove(id int64) {
	if i := c.insertedIndex(id); i >= 0 {
		c.inserted = append(c.inserted[:i], c.inserted[i+1:]...)
		return
	}
	delete(c.updated, id)
	c.deleted[id] = struct{}{}
}

// lookup resolves id from staged state alone. decided is false when the
// answer has to come from the database.
func (c *changeSet) lookup(id int64) (rec Record, found, decided bool) {
	if _, ok := c.deleted[id]; ok {
		return Record{}, false, true
	}
	if i := c.insertedIndex(id); i >= 0 {
		return c.inserted[i], true, true
	}
	if rec, ok := c.updated[id]; ok {
		return rec, true, true
	}
	return Record{}, false, false
}

// overlay applies staged changes to persisted rows (ascending id) and
// returns the result in creation order.
func (c *changeSet) overlay(rows []Record) []Record {
	out := make([]Record, 0, len(rows)+len(c.inserted))
	for _, row := range rows {
		if _, ok := c.deleted[row.ID]; ok {
			continue
		}
		if rec, ok := c.updated[row.ID]; ok {
			row = rec
		}
		out = append(out, row)
	}
	return append(out, c.inserted...)
}

// deletedIDs returns staged deletions in ascending order so flushes are
// deterministic.
func (c *changeSet) deletedIDs() []int64 {
	ids := make([]int64, 0, len(c.deleted))
	for id := range c.deleted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// updatedRecords returns staged updates in ascending id order.
func (c *changeSet) updatedRecords() []Record {
	recs := make([]Record, 0, len(c.updated))
	for _, rec := range c.updated {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}
