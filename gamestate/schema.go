package gamestate

import (
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/hex"
)

// playerRow and nodeRow/metricsRow wrap the event package's plain structs
// with a string key memdb can index; go-memdb's field indexers key off
// exported string fields, so the key is precomputed once on insert rather
// than re-derived per query.
type playerRow struct {
	ID     string
	Player event.Player
}

type nodeRow struct {
	Coord string
	Node  event.Node
}

type metricsRow struct {
	Coord   string
	Metrics event.Metrics
}

func coordKey(c hex.Coord) string { return fmt.Sprintf("%d:%d", c.Q, c.R) }

func playerKey(id uint64) string { return fmt.Sprintf("%d", id) }

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"players": {
			Name: "players",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		"nodes": {
			Name: "nodes",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Coord"},
				},
			},
		},
		"metrics": {
			Name: "metrics",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Coord"},
				},
			},
		},
	},
}

func newMemDB() *memdb.MemDB {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// Schema is static and validated above; a failure here is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("gamestate: invalid memdb schema: %v", err))
	}
	return db
}
