package sqlite

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
)

// InsertTurn writes a chat_history row. Pass a *sql.Tx to make it part of a
// larger unit of work.
func InsertTurn(ctx context.Context, ex execer, turn *model.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	res, err := ex.ExecContext(ctx, `
        INSERT INTO chat_history(id, user_input, agent_response, created_at)
        VALUES(?, ?, ?, ?);
    `, turn.ID, turn.UserInput, turn.AgentResponse, turn.CreatedAt)
	if err != nil {
		return goerr.Wrap(err, "failed to insert turn", goerr.V("turn_id", turn.ID), goerr.T(model.TagStore))
	}
	if seq, err := res.LastInsertId(); err == nil {
		turn.Seq = seq
	}
	return nil
}

// RecentTurns returns the last limit turns by insertion order, oldest first.
func (d *Database) RecentTurns(ctx context.Context, limit int) ([]model.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := d.db.QueryContext(ctx, `
        SELECT seq, id, user_input, agent_response, created_at
        FROM chat_history
        ORDER BY seq DESC
        LIMIT ?;
    `, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query recent turns", goerr.T(model.TagStore))
	}
	defer rows.Close()

	var out []model.Turn
	for rows.Next() {
		var t model.Turn
		if err := rows.Scan(&t.Seq, &t.ID, &t.UserInput, &t.AgentResponse, &t.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan turn", goerr.T(model.TagStore))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate turns", goerr.T(model.TagStore))
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (d *Database) CountTurns(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_history;`).Scan(&n); err != nil {
		return 0, goerr.Wrap(err, "failed to count turns", goerr.T(model.TagStore))
	}
	return n, nil
}
