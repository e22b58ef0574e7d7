package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
)

// InsertMemory writes a chat_embeddings row.
func InsertMemory(ctx context.Context, ex execer, rec *model.MemoryRecord) error {
	if len(rec.Embedding) == 0 {
		return goerr.New("embedding is empty", goerr.V("memory_id", rec.ID), goerr.T(model.TagStore))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var turnID sql.NullString
	if rec.TurnID != "" {
		turnID = sql.NullString{String: rec.TurnID, Valid: true}
	}

	_, err := ex.ExecContext(ctx, `
        INSERT INTO chat_embeddings(id, text, embedding, source, turn_id, created_at)
        VALUES(?, ?, ?, ?, ?, ?);
    `, rec.ID, rec.Text, encodeVector(rec.Embedding), string(rec.Source), turnID, rec.CreatedAt)
	if err != nil {
		return goerr.Wrap(err, "failed to insert memory", goerr.V("memory_id", rec.ID), goerr.T(model.TagStore))
	}
	return nil
}

// FetchMemories retrieves memory rows by id. Missing ids are skipped.
func (d *Database) FetchMemories(ctx context.Context, ids []string) (map[string]model.MemoryRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, text, source, turn_id, created_at FROM chat_embeddings WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch memories", goerr.T(model.TagStore))
	}
	defer rows.Close()

	out := make(map[string]model.MemoryRecord, len(ids))
	for rows.Next() {
		var (
			rec    model.MemoryRecord
			source string
			turnID sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &source, &turnID, &rec.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory", goerr.T(model.TagStore))
		}
		rec.Source = model.MemorySource(source)
		rec.TurnID = turnID.String
		out[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memories", goerr.T(model.TagStore))
	}
	return out, nil
}

// ScanMemories walks every memory row in insertion order, embeddings
// included, in pages of batch rows.
func (d *Database) ScanMemories(ctx context.Context, batch int, fn func(rec model.MemoryRecord) error) error {
	if batch <= 0 {
		batch = 256
	}
	var after int64
	for {
		page, last, err := d.memoryPage(ctx, after, batch)
		if err != nil {
			return err
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(page) < batch {
			return nil
		}
		after = last
	}
}

func (d *Database) memoryPage(ctx context.Context, after int64, limit int) ([]model.MemoryRecord, int64, error) {
	rows, err := d.db.QueryContext(ctx, `
        SELECT seq, id, text, embedding, source, turn_id, created_at
        FROM chat_embeddings
        WHERE seq > ?
        ORDER BY seq ASC
        LIMIT ?;
    `, after, limit)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to scan memories", goerr.T(model.TagStore))
	}
	defer rows.Close()

	var (
		out  []model.MemoryRecord
		last = after
	)
	for rows.Next() {
		var (
			rec    model.MemoryRecord
			seq    int64
			blob   []byte
			source string
			turnID sql.NullString
		)
		if err := rows.Scan(&seq, &rec.ID, &rec.Text, &blob, &source, &turnID, &rec.CreatedAt); err != nil {
			return nil, 0, goerr.Wrap(err, "failed to scan memory", goerr.T(model.TagStore))
		}
		rec.Embedding = decodeVector(blob)
		rec.Source = model.MemorySource(source)
		rec.TurnID = turnID.String
		out = append(out, rec)
		last = seq
	}
	if err := rows.Err(); err != nil {
		return nil, 0, goerr.Wrap(err, "failed to iterate memories", goerr.T(model.TagStore))
	}
	return out, last, nil
}

func (d *Database) CountMemories(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_embeddings;`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count memories", goerr.T(model.TagStore))
	}
	return n, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		out = append(out, '?')
		if i != n-1 {
			out = append(out, ',')
		}
	}
	return string(out)
}

// encodeVector stores float32 values little-endian, 4 bytes each.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}
