package domain

import "time"

// IntegrityState is the per-record tamper-detection state. Quarantined is
// terminal until an administrator explicitly clears it.
type IntegrityState string

const (
	// IntegrityUnverified means no digest is on file yet.
	IntegrityUnverified  IntegrityState = "unverified"
	IntegrityValid       IntegrityState = "valid"
	IntegrityQuarantined IntegrityState = "quarantined"
)

// Physician is the assigned-physician summary fingerprinted with the record.
type Physician struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Phone     string `json:"phone"`
}

// EmergencyContact is the emergency-contact summary fingerprinted with the record.
type EmergencyContact struct {
	Name     string `json:"name"`
	Relation string `json:"relation"`
	Phone    string `json:"phone"`
}

// Visit is one consultation entry. Dates are calendar days in "2006-01-02" form.
type Visit struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Reason    string `json:"reason"`
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment"`
	Notes     string `json:"notes"`
}

// Vaccination is one vaccination entry. NextDose is empty when none is scheduled.
type Vaccination struct {
	Name     string `json:"name"`
	Date     string `json:"date"`
	NextDose string `json:"next_dose,omitempty"`
}

// MedicalContent is the medically-relevant payload of a clinical record.
// Exactly these fields feed the integrity fingerprint; volatile metadata
// (record id, patient id, timestamps) never does.
type MedicalContent struct {
	BloodType          string            `json:"blood_type"`
	Allergies          []string          `json:"allergies"`
	ChronicConditions  []string          `json:"chronic_conditions"`
	CurrentMedications []string          `json:"current_medications"`
	FamilyHistory      []string          `json:"family_history"`
	Physician          *Physician        `json:"physician"`
	EmergencyContact   *EmergencyContact `json:"emergency_contact"`
	Visits             []Visit           `json:"visits"`
	Vaccinations       []Vaccination     `json:"vaccinations"`
}

// ClinicalRecord owns a medical-content payload plus its integrity bookkeeping.
//
// Every mutation of Content must be followed by digest regeneration, except
// while Corrupted is set: a quarantined record keeps its stored digest as
// evidence until an administrator clears the quarantine.
type ClinicalRecord struct {
	ID        string
	PatientID string

	Content MedicalContent

	Digest               string // lowercase hex SHA-256; empty until established
	Corrupted            bool
	CorruptionReason     string
	CorruptionDetectedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IntegrityState derives the record's integrity state from persisted fields.
func (r ClinicalRecord) IntegrityState() IntegrityState {
	switch {
	case r.Corrupted:
		return IntegrityQuarantined
	case r.Digest == "":
		return IntegrityUnverified
	default:
		return IntegrityValid
	}
}
