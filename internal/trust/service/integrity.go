package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/sironahealth/sirona/internal/trust/metrics"
	"github.com/sironahealth/sirona/internal/trust/store"
	"github.com/sironahealth/sirona/pkg/idx"
	"github.com/sironahealth/sirona/pkg/slogx"
)

var (
	// ErrRecordQuarantined gates both content access for non-administrators
	// and content mutation while the corruption flag is set.
	ErrRecordQuarantined = errors.New("record is quarantined pending review")

	// ErrNotQuarantined is a quarantine clear on a record that is not flagged.
	ErrNotQuarantined = errors.New("record is not quarantined")
)

// digestPrefixLen is how many hex characters of a digest appear in audit
// detail maps. Full digests stay in the database only.
const digestPrefixLen = 16

// IntegrityService owns the tamper-detection lifecycle of clinical records:
// digest verification, quarantine, administrator-gated recovery and the bulk
// sweep.
type IntegrityService struct {
	Store   store.Store
	Audit   AuditRecorder
	Metrics *metrics.Metrics

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time
}

func (s *IntegrityService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func (s *IntegrityService) audit(ctx context.Context, e AuditEntry) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Record(ctx, e); err != nil {
		slogx.FromContext(ctx).Error("failed to record audit event",
			slog.String("kind", string(e.Kind)),
			slog.Any("error", err),
		)
	}
}

func (s *IntegrityService) countCheck(result string) {
	if s.Metrics != nil {
		s.Metrics.IntegrityChecks.WithLabelValues(result).Inc()
	}
}

// CreateRecord fingerprints the content and stores a new record with its
// digest already established.
func (s *IntegrityService) CreateRecord(ctx context.Context, patientID string, content domain.MedicalContent) (domain.ClinicalRecord, error) {
	digest, err := Fingerprint(content)
	if err != nil {
		return domain.ClinicalRecord{}, err
	}

	now := s.now()
	rec := domain.ClinicalRecord{
		ID:        idx.New().String(),
		PatientID: patientID,
		Content:   content,
		Digest:    digest,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Records().CreateRecord(ctx, rec); err != nil {
		return domain.ClinicalRecord{}, fmt.Errorf("create record: %w", err)
	}
	return rec, nil
}

// UpdateContent replaces a record's medical content and regenerates its
// digest in the same step, so a legitimate write can never trip the verifier.
// Quarantined records refuse writes until an administrator clears them.
func (s *IntegrityService) UpdateContent(ctx context.Context, recordID string, content domain.MedicalContent) error {
	rec, err := s.Store.Records().GetRecordByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if rec.Corrupted {
		return ErrRecordQuarantined
	}

	digest, err := Fingerprint(content)
	if err != nil {
		return err
	}
	if err := s.Store.Records().UpdateContent(ctx, recordID, content, digest); err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// Verify recomputes a record's fingerprint and compares it against the stored
// digest. It reports, it does not quarantine; callers decide whether a
// mismatch warrants Quarantine.
func (s *IntegrityService) Verify(ctx context.Context, rec domain.ClinicalRecord, origin, client string) (domain.IntegrityResult, error) {
	calculated, err := Fingerprint(rec.Content)
	if err != nil {
		return domain.IntegrityResult{}, err
	}

	result := domain.IntegrityResult{
		RecordID:         rec.ID,
		PatientID:        rec.PatientID,
		ExpectedDigest:   rec.Digest,
		CalculatedDigest: calculated,
		CorruptionReason: rec.CorruptionReason,
	}

	if rec.Digest == "" {
		// No baseline yet. The caller may persist the calculated digest on
		// the next legitimate write; nothing is flagged.
		result.State = domain.IntegrityUnverified
		s.countCheck("unestablished")
		return result, nil
	}

	if rec.Corrupted {
		result.State = domain.IntegrityQuarantined
		s.countCheck("quarantined")
		return result, nil
	}

	if rec.Digest == calculated {
		result.State = domain.IntegrityValid
		s.countCheck("valid")
		s.audit(ctx, AuditEntry{
			Kind:      domain.EventIntegrityVerified,
			SubjectID: rec.PatientID,
			Origin:    origin,
			Client:    client,
			Detail: map[string]string{
				"record_id":         rec.ID,
				"calculated_digest": digestPrefix(calculated),
			},
		})
		return result, nil
	}

	result.State = domain.IntegrityQuarantined
	s.countCheck("invalid")
	s.audit(ctx, AuditEntry{
		Kind:      domain.EventIntegrityFailed,
		SubjectID: rec.PatientID,
		Origin:    origin,
		Client:    client,
		Detail: map[string]string{
			"record_id":         rec.ID,
			"expected_digest":   digestPrefix(rec.Digest),
			"calculated_digest": digestPrefix(calculated),
		},
	})
	return result, nil
}

// Quarantine flags a record as corrupted. The stored digest is left in place
// as evidence of what the content was supposed to hash to.
func (s *IntegrityService) Quarantine(ctx context.Context, recordID, reason, origin, client string) error {
	rec, err := s.Store.Records().GetRecordByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("load record: %w", err)
	}
	if rec.Corrupted {
		// Already flagged; the first detection wins and keeps its reason.
		return nil
	}

	if err := s.Store.Records().SetQuarantine(ctx, recordID, reason, s.now()); err != nil {
		return fmt.Errorf("quarantine record: %w", err)
	}

	if s.Metrics != nil {
		s.Metrics.Quarantines.Inc()
	}
	s.audit(ctx, AuditEntry{
		Kind:      domain.EventRecordQuarantined,
		SubjectID: rec.PatientID,
		Origin:    origin,
		Client:    client,
		Detail: map[string]string{
			"record_id": recordID,
			"reason":    reason,
		},
	})
	return nil
}

// ClearQuarantine lifts a quarantine after human review, accepting the
// current content as the new baseline. Administrators only. Returns the fresh
// digest.
func (s *IntegrityService) ClearQuarantine(ctx context.Context, actor domain.Account, recordID, origin, client string) (string, error) {
	if actor.Role != domain.RoleAdministrator {
		return "", ErrNotAuthorized
	}

	rec, err := s.Store.Records().GetRecordByID(ctx, recordID)
	if err != nil {
		return "", fmt.Errorf("load record: %w", err)
	}
	if !rec.Corrupted {
		return "", ErrNotQuarantined
	}

	digest, err := Fingerprint(rec.Content)
	if err != nil {
		return "", err
	}
	if err := s.Store.Records().ClearQuarantine(ctx, recordID, digest); err != nil {
		return "", fmt.Errorf("clear quarantine: %w", err)
	}

	s.audit(ctx, AuditEntry{
		Kind:      domain.EventQuarantineCleared,
		ActorID:   actor.ID,
		SubjectID: rec.PatientID,
		Origin:    origin,
		Client:    client,
		Detail: map[string]string{
			"record_id":  recordID,
			"new_digest": digestPrefix(digest),
		},
	})
	return digest, nil
}

// VerifyAll sweeps every record, quarantining fresh mismatches. Records
// already quarantined are counted but never re-flagged, and records without a
// baseline digest are counted as unestablished. The sweep stops early when
// ctx is cancelled.
func (s *IntegrityService) VerifyAll(ctx context.Context, origin, client string) (domain.SweepReport, error) {
	records, err := s.Store.Records().ListRecords(ctx)
	if err != nil {
		return domain.SweepReport{}, fmt.Errorf("list records: %w", err)
	}

	report := domain.SweepReport{Total: len(records)}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result, err := s.Verify(ctx, rec, origin, client)
		if err != nil {
			return report, err
		}

		switch {
		case rec.Corrupted:
			report.Quarantined++
		case result.State == domain.IntegrityUnverified:
			report.Unestablished++
		case result.State == domain.IntegrityValid:
			report.Valid++
		default:
			report.Invalid++
			reason := fmt.Sprintf("digest mismatch detected during integrity sweep (expected %s, calculated %s)",
				digestPrefix(rec.Digest), digestPrefix(result.CalculatedDigest))
			if err := s.Quarantine(ctx, rec.ID, reason, origin, client); err != nil {
				return report, err
			}
			result.State = domain.IntegrityQuarantined
			result.CorruptionReason = reason
			report.Quarantined++
		}
		report.Results = append(report.Results, result)
	}
	return report, nil
}

// RegenerateDigests recomputes and stores digests for every record that is
// not quarantined. Administrators only; quarantined records keep their stored
// digest as evidence.
func (s *IntegrityService) RegenerateDigests(ctx context.Context, actor domain.Account, origin, client string) (int, error) {
	if actor.Role != domain.RoleAdministrator {
		return 0, ErrNotAuthorized
	}

	records, err := s.Store.Records().ListRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}

	updated := 0
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if rec.Corrupted {
			continue
		}

		digest, err := Fingerprint(rec.Content)
		if err != nil {
			return updated, err
		}
		if digest == rec.Digest {
			continue
		}
		if err := s.Store.Records().UpdateDigest(ctx, rec.ID, digest); err != nil {
			return updated, fmt.Errorf("store digest: %w", err)
		}
		updated++
	}

	s.audit(ctx, AuditEntry{
		Kind:    domain.EventDigestsRegenerated,
		ActorID: actor.ID,
		Origin:  origin,
		Client:  client,
		Detail:  map[string]string{"updated": strconv.Itoa(updated)},
	})
	return updated, nil
}

// ListQuarantined returns the verification view of every quarantined record.
func (s *IntegrityService) ListQuarantined(ctx context.Context) ([]domain.IntegrityResult, error) {
	records, err := s.Store.Records().ListQuarantined(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quarantined: %w", err)
	}

	results := make([]domain.IntegrityResult, 0, len(records))
	for _, rec := range records {
		results = append(results, domain.IntegrityResult{
			RecordID:         rec.ID,
			PatientID:        rec.PatientID,
			State:            domain.IntegrityQuarantined,
			ExpectedDigest:   rec.Digest,
			CorruptionReason: rec.CorruptionReason,
		})
	}
	return results, nil
}

// CheckAccess decides whether an account may read a record's content. While a
// record sits in quarantine only administrators see it.
func (s *IntegrityService) CheckAccess(rec domain.ClinicalRecord, account domain.Account) error {
	if rec.Corrupted && account.Role != domain.RoleAdministrator {
		return ErrRecordQuarantined
	}
	return nil
}

func digestPrefix(digest string) string {
	if len(digest) <= digestPrefixLen {
		return digest
	}
	return digest[:digestPrefixLen]
}
