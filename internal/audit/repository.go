package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
)

// WindowParams selects a slice of audit_logs. An invalid Limit returns every
// matching row.
type WindowParams struct {
	FromAt   pgtype.Timestamptz
	ToAt     pgtype.Timestamptz
	ActorID  pgtype.Int8
	Entity   pgtype.Text
	EntityID pgtype.Text
	Action   pgtype.Text
	Offset   int32
	Limit    pgtype.Int4
}

// Row is the raw audit_logs projection.
type Row struct {
	At       time.Time
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     []byte
}

// PgRepository reads audit_logs.
type PgRepository struct {
	q db.Querier
}

// NewRepository constructs a PgRepository.
func NewRepository(q db.Querier) *PgRepository {
	return &PgRepository{q: q}
}

const timelineSQL = `SELECT occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id DESC
OFFSET $7 LIMIT $8`

// Window returns rows newest first.
func (r *PgRepository) Window(ctx context.Context, p WindowParams) ([]Row, error) {
	rows, err := r.q.Query(ctx, timelineSQL, p.FromAt, p.ToAt, p.ActorID, p.Entity, p.EntityID, p.Action, p.Offset, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &row.Meta); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func mapRow(row Row) (TimelineRow, error) {
	out := TimelineRow{At: row.At, ActorID: row.ActorID, Action: row.Action}
	id, err := strconv.ParseInt(row.EntityID, 10, 64)
	if err != nil {
		return TimelineRow{}, fmt.Errorf("audit: entity id %q: %w", row.EntityID, err)
	}
	out.Ref = docref.Ref{Kind: docref.Kind(row.Entity), ID: id}
	if len(row.Meta) > 0 {
		if err := json.Unmarshal(row.Meta, &out.Meta); err != nil {
			return TimelineRow{}, fmt.Errorf("audit: meta: %w", err)
		}
	}
	out.DocNumber, _ = out.Meta["doc_number"].(string)
	out.Status, _ = out.Meta["status"].(string)
	return out, nil
}
