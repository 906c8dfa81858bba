package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sironahealth/sirona/internal/trust/domain"
)

type auditEventsRepo struct {
	q dbtx
}

func (r *auditEventsRepo) AppendEvent(ctx context.Context, e domain.Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO audit_events (id, ts, kind, actor_id, subject_id, origin, client, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, string(e.Kind),
		mapOptionalString(e.ActorID), mapOptionalString(e.SubjectID),
		e.Origin, e.Client, string(detail),
	)
	return mapConstraint(err)
}

func (r *auditEventsRepo) QueryEvents(ctx context.Context, f domain.EventFilter) (domain.EventPage, error) {
	var (
		where []string
		args  []any
	)

	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if !f.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, f.To)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	row := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`+clause, args...)
	if err := row.Scan(&total); err != nil {
		return domain.EventPage{}, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, ts, kind, actor_id, subject_id, origin, client, detail
		FROM audit_events` + clause + `
		ORDER BY ts DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.EventPage{}, err
	}
	defer rows.Close()

	page := domain.EventPage{Total: total}
	for rows.Next() {
		var (
			e         domain.Event
			kind      string
			actorID   sql.NullString
			subjectID sql.NullString
			detail    string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &kind, &actorID, &subjectID, &e.Origin, &e.Client, &detail); err != nil {
			return domain.EventPage{}, err
		}

		e.Kind = domain.EventKind(kind)
		e.ActorID = mapNullStringPtr(actorID)
		e.SubjectID = mapNullStringPtr(subjectID)
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return domain.EventPage{}, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
		}

		page.Events = append(page.Events, e)
	}
	return page, rows.Err()
}
