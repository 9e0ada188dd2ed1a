package domain

import (
	"encoding/json"
	"time"
)

// FilingStatus is the processing status of a filing.
type FilingStatus string

// Filing statuses. COMPLETED and ERROR are terminal.
const (
	FilingDraft      FilingStatus = "DRAFT"
	FilingPending    FilingStatus = "PENDING"
	FilingProcessing FilingStatus = "PROCESSING"
	FilingCompleted  FilingStatus = "COMPLETED"
	FilingError      FilingStatus = "ERROR"
)

// Terminal reports whether no further transition is allowed from the status.
func (s FilingStatus) Terminal() bool {
	return s == FilingCompleted || s == FilingError
}

// CourtOrder captures court order details attached to a filing.
type CourtOrder struct {
	FileNumber    string     `json:"fileNumber"`
	OrderDate     *time.Time `json:"orderDate,omitempty"`
	EffectOfOrder string     `json:"effectOfOrder,omitempty"`
	OrderDetails  string     `json:"orderDetails,omitempty"`
}

// Filing is a single submission unit, possibly bundling several legal filings.
type Filing struct {
	ID                 int64           `json:"id"`
	BusinessID         *int64          `json:"businessId,omitempty"`
	Status             FilingStatus    `json:"status"`
	FilingType         string          `json:"filingType"`
	EffectiveDate      time.Time       `json:"effectiveDate"`
	FilingDate         time.Time       `json:"filingDate"`
	CompletionDate     *time.Time      `json:"completionDate,omitempty"`
	TransactionID      int64           `json:"transactionId"`
	JSON               json.RawMessage `json:"filingJson,omitempty"`
	Meta               json.RawMessage `json:"metaData,omitempty"`
	TempIdentifier     string          `json:"tempIdentifier,omitempty"`
	ProcessedLegalType string          `json:"processedLegalType,omitempty"`
	ParentFilingID     *int64          `json:"parentFilingId,omitempty"`
	CorrectionFilingID *int64          `json:"correctionFilingId,omitempty"`
	CourtOrder         *CourtOrder     `json:"courtOrder,omitempty"`
	OrderDetails       string          `json:"orderDetails,omitempty"`
}

// Completed reports whether the filing has already been applied.
func (f Filing) Completed() bool { return f.Status == FilingCompleted }

// SetProcessed marks the filing COMPLETED for a business of the given legal type.
func (f *Filing) SetProcessed(legalType string, at time.Time) {
	f.Status = FilingCompleted
	f.ProcessedLegalType = legalType
	completed := at
	f.CompletionDate = &completed
}

// Version is one append-only image of a versioned row, keyed by
// (Entity, EntityID, TransactionID).
type Version struct {
	Entity        EntityType      `json:"entity"`
	EntityID      int64           `json:"entityId"`
	BusinessID    int64           `json:"businessId,omitempty"`
	TransactionID int64           `json:"transactionId"`
	Action        Action          `json:"action"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// ErrNotFound is returned when a referenced row does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     any
}

func (e ErrNotFound) Error() string {
	return string(e.Entity) + " " + formatID(e.ID) + " not found"
}

func formatID(id any) string {
	b, err := json.Marshal(id)
	if err != nil {
		return "?"
	}
	return string(b)
}

// IdentifierConflictError is returned when a new business is given an
// identifier another business already holds.
type IdentifierConflictError struct {
	Identifier string
	BusinessID int64
}

func (e IdentifierConflictError) Error() string {
	return "identifier " + e.Identifier + " already assigned to business " + formatID(e.BusinessID)
}

// PersistenceError wraps failures of the durable backend (connectivity,
// constraint, I/O). Callers treat it as retryable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }
