package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/sironahealth/sirona/internal/trust/store"
)

type recordsRepo struct {
	q dbtx
}

const recordColumns = `id, patient_id, content, digest, corrupted,
	corruption_reason, corruption_detected_at, created_at, updated_at`

func (r *recordsRepo) GetRecordByID(ctx context.Context, id string) (domain.ClinicalRecord, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM clinical_records WHERE id = ?`, id)
	return scanRecord(row)
}

func (r *recordsRepo) GetRecordByPatient(ctx context.Context, patientID string) (domain.ClinicalRecord, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM clinical_records WHERE patient_id = ?`, patientID)
	return scanRecord(row)
}

func (r *recordsRepo) CreateRecord(ctx context.Context, rec domain.ClinicalRecord) error {
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("sqlite: marshal medical content: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO clinical_records (id, patient_id, content, digest, corrupted, corruption_reason, corruption_detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PatientID, string(content), rec.Digest,
		rec.Corrupted, rec.CorruptionReason, mapOptionalTime(rec.CorruptionDetectedAt),
	)
	return mapConstraint(err)
}

func (r *recordsRepo) UpdateContent(ctx context.Context, recordID string, content domain.MedicalContent, digest string) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("sqlite: marshal medical content: %w", err)
	}

	return r.exec(ctx, `
		UPDATE clinical_records
		SET content = ?, digest = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(raw), digest, recordID)
}

func (r *recordsRepo) UpdateDigest(ctx context.Context, recordID string, digest string) error {
	return r.exec(ctx, `
		UPDATE clinical_records SET digest = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		digest, recordID)
}

func (r *recordsRepo) SetQuarantine(ctx context.Context, recordID string, reason string, detectedAt time.Time) error {
	// The stored digest is deliberately untouched: it is evidence.
	return r.exec(ctx, `
		UPDATE clinical_records
		SET corrupted = 1, corruption_reason = ?, corruption_detected_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		reason, detectedAt, recordID)
}

func (r *recordsRepo) ClearQuarantine(ctx context.Context, recordID string, newDigest string) error {
	return r.exec(ctx, `
		UPDATE clinical_records
		SET corrupted = 0, corruption_reason = '', corruption_detected_at = NULL,
		    digest = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		newDigest, recordID)
}

func (r *recordsRepo) ListRecords(ctx context.Context) ([]domain.ClinicalRecord, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM clinical_records ORDER BY id`)
}

func (r *recordsRepo) ListQuarantined(ctx context.Context) ([]domain.ClinicalRecord, error) {
	return r.list(ctx, `SELECT `+recordColumns+` FROM clinical_records WHERE corrupted = 1 ORDER BY id`)
}

func (r *recordsRepo) list(ctx context.Context, query string) ([]domain.ClinicalRecord, error) {
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ClinicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *recordsRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanRecord(row rowScanner) (domain.ClinicalRecord, error) {
	var (
		rec        domain.ClinicalRecord
		content    string
		detectedAt sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.PatientID, &content, &rec.Digest, &rec.Corrupted,
		&rec.CorruptionReason, &detectedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.ClinicalRecord{}, mapNotFound(err)
	}

	if err := json.Unmarshal([]byte(content), &rec.Content); err != nil {
		return domain.ClinicalRecord{}, fmt.Errorf("sqlite: unmarshal medical content: %w", err)
	}

	rec.CorruptionDetectedAt = mapNullTimePtr(detectedAt)
	return rec, nil
}
