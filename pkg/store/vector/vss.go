package vector

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
	"github.com/johncui/mnemo/pkg/store/sqlite"
)

// VSS keeps the index inside the sqlite database through the sqlite-vss
// extension. The database must have been opened with EnableVSS.
type VSS struct {
	db  *sqlite.Database
	dim int
}

func NewVSS(db *sqlite.Database) (*VSS, error) {
	if !db.HasVSS() {
		return nil, goerr.New("database was opened without sqlite-vss", goerr.T(model.TagConfig))
	}
	return &VSS{db: db, dim: db.VectorDim()}, nil
}

// Add stores a payload row mapping the vss rowid to the memory id, then the
// vector under that rowid. An id that is already present is left alone.
func (v *VSS) Add(ctx context.Context, id string, vec []float32) error {
	if err := checkDim(vec, v.dim); err != nil {
		return err
	}
	if ok, err := v.Contains(ctx, id); err != nil {
		return err
	} else if ok {
		return nil
	}

	return v.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO vss_payload(memory_id) VALUES (?)`, id)
		if err != nil {
			return goerr.Wrap(err, "failed to insert vss payload", goerr.V("id", id), goerr.T(model.TagStore))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return goerr.Wrap(err, "failed to read vss payload rowid", goerr.T(model.TagStore))
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vss_memories(rowid, embedding) VALUES (?, json(?))`,
			rowID, toJSON(Normalize(vec))); err != nil {
			return goerr.Wrap(err, "failed to insert vss vector", goerr.V("id", id), goerr.T(model.TagStore))
		}
		return nil
	})
}

// Search returns the k closest memories. vss_search reports squared L2
// distance, which for unit vectors equals twice the cosine distance.
func (v *VSS) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := checkDim(query, v.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := v.db.DB().QueryContext(ctx, `
        SELECT p.memory_id, m.distance
        FROM (
            SELECT rowid, distance FROM vss_memories
            WHERE vss_search(embedding, json(?))
            LIMIT ?
        ) m
        JOIN vss_payload p ON p.rowid = m.rowid
        ORDER BY m.distance ASC;`, toJSON(Normalize(query)), k)
	if err != nil {
		return nil, goerr.Wrap(err, "vss search failed", goerr.T(model.TagStore))
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		var l2 float64
		if err := rows.Scan(&n.ID, &l2); err != nil {
			return nil, goerr.Wrap(err, "failed to scan vss row", goerr.T(model.TagStore))
		}
		n.Distance = l2 / 2
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate vss rows", goerr.T(model.TagStore))
	}
	return out, nil
}

func (v *VSS) Contains(ctx context.Context, id string) (bool, error) {
	var one int
	err := v.db.DB().QueryRowContext(ctx, `SELECT 1 FROM vss_payload WHERE memory_id = ?`, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, goerr.Wrap(err, "failed to look up vss payload", goerr.V("id", id), goerr.T(model.TagStore))
	}
	return true, nil
}

// Len reports the number of indexed vectors, or 0 when the count fails.
func (v *VSS) Len() int {
	var n int
	if err := v.db.DB().QueryRow(`SELECT COUNT(*) FROM vss_payload`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func toJSON(vec []float32) string {
	var b strings.Builder
	b.WriteString("[")
	for i, x := range vec {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteString("]")
	return b.String()
}

var _ Index = (*VSS)(nil)
