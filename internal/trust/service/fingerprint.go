package service

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/sironahealth/sirona/pkg/cryptox"
)

// canonicalContent is the deterministic projection of a record's medical
// content. Field order is fixed, list order is normalised, and nil slices are
// emitted as empty arrays so that "no allergies" always serialises the same
// way.
type canonicalContent struct {
	BloodType          string                   `json:"blood_type"`
	Allergies          []string                 `json:"allergies"`
	ChronicConditions  []string                 `json:"chronic_conditions"`
	CurrentMedications []string                 `json:"current_medications"`
	FamilyHistory      []string                 `json:"family_history"`
	Physician          *domain.Physician        `json:"physician"`
	EmergencyContact   *domain.EmergencyContact `json:"emergency_contact"`
	Visits             []domain.Visit           `json:"visits"`
	Vaccinations       []domain.Vaccination     `json:"vaccinations"`
}

// Fingerprint computes the canonical SHA-256 digest of a record's medical
// content as lowercase hex. Two contents that differ only in list ordering or
// JSON formatting yield the same digest; any change to a clinical value
// yields a different one.
func Fingerprint(c domain.MedicalContent) (string, error) {
	canon := canonicalContent{
		BloodType:          c.BloodType,
		Allergies:          sortedStrings(c.Allergies),
		ChronicConditions:  sortedStrings(c.ChronicConditions),
		CurrentMedications: sortedStrings(c.CurrentMedications),
		FamilyHistory:      sortedStrings(c.FamilyHistory),
		Physician:          c.Physician,
		EmergencyContact:   c.EmergencyContact,
		Visits:             sortedVisits(c.Visits),
		Vaccinations:       sortedVaccinations(c.Vaccinations),
	}

	data, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("canonicalise content: %w", err)
	}
	return cryptox.DigestHex(data), nil
}

func sortedStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	slices.Sort(out)
	return out
}

func sortedVisits(in []domain.Visit) []domain.Visit {
	out := make([]domain.Visit, len(in))
	copy(out, in)
	slices.SortFunc(out, func(a, b domain.Visit) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func sortedVaccinations(in []domain.Vaccination) []domain.Vaccination {
	out := make([]domain.Vaccination, len(in))
	copy(out, in)
	slices.SortFunc(out, func(a, b domain.Vaccination) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
