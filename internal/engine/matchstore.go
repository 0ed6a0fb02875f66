package engine

import (
	"github.com/hashicorp/go-memdb"

	"github.com/mrsinham/dicomhang/internal/protocol"
)

const matchTable = "protocol_match"

// MatchRow is one row of the match-state store: how a protocol scored in
// the last selection pass and whether it is the active one. The UI layer
// reads these rows to render the protocol picker.
type MatchRow struct {
	ID       string
	Score    float64
	Protocol *protocol.Protocol
	Selected bool
}

// MatchStore is the queryable store of protocol match state, rebuilt on
// every selection pass. Writes follow the engine's contract: upsert by
// protocol ID, clear-then-set the selected flag.
type MatchStore struct {
	db *memdb.MemDB
}

var matchSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		matchTable: {
			Name: matchTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
	},
}

// NewMatchStore creates an empty match store.
func NewMatchStore() (*MatchStore, error) {
	db, err := memdb.NewMemDB(matchSchema)
	if err != nil {
		return nil, err
	}
	return &MatchStore{db: db}, nil
}

// Clear removes every row.
func (s *MatchStore) Clear() error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(matchTable, "id"); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// InsertMissing adds a row unless one with the same ID already exists, so
// the first study to match a protocol fixes its recorded score.
func (s *MatchStore) InsertMissing(row MatchRow) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(matchTable, "id", row.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := txn.Insert(matchTable, &row); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Select clears the selected flag on every row and sets it on the row
// with the given ID, inserting the row if the selected protocol was not
// part of the pass (e.g. the fallback).
func (s *MatchStore) Select(p *protocol.Protocol, score float64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(matchTable, "id")
	if err != nil {
		return err
	}
	var updated []*MatchRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		row := *obj.(*MatchRow)
		row.Selected = row.ID == p.ID
		updated = append(updated, &row)
	}
	found := false
	for _, row := range updated {
		if err := txn.Insert(matchTable, row); err != nil {
			return err
		}
		if row.ID == p.ID {
			found = true
		}
	}
	if !found {
		row := &MatchRow{ID: p.ID, Score: score, Protocol: p, Selected: true}
		if err := txn.Insert(matchTable, row); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

// Get returns the row for a protocol ID.
func (s *MatchStore) Get(id string) (MatchRow, bool) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(matchTable, "id", id)
	if err != nil || obj == nil {
		return MatchRow{}, false
	}
	return *obj.(*MatchRow), true
}

// All returns every row, ordered by ID.
func (s *MatchStore) All() []MatchRow {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(matchTable, "id")
	if err != nil {
		return nil
	}
	var rows []MatchRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, *obj.(*MatchRow))
	}
	return rows
}
