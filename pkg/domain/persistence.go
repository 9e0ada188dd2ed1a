package domain

import "context"

// Transaction exposes the operations a persistence implementation must
// support within an atomic unit of work. Every row it mutates is stamped with
// ID() at commit.
type Transaction interface {
	ID() int64
	Snapshot() TransactionView
	FindBusiness(id int64) (Business, bool)
	FindBusinessByIdentifier(identifier string) (Business, bool)
	FindFiling(id int64) (Filing, bool)
	CreateFiling(Filing) (Filing, error)
	CreateBusiness(Business) (Business, error)
	UpdateBusiness(id int64, mutator func(*Business) error) (Business, error)
	UpdateFiling(id int64, mutator func(*Filing) error) (Filing, error)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListBusinesses() []Business
	FindBusiness(id int64) (Business, bool)
	FindBusinessByIdentifier(identifier string) (Business, bool)
	FindFiling(id int64) (Filing, bool)
}

// PersistentStore is the entity store consumed by the dispatch loop. Reads
// outside RunInTransaction observe committed state only.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	FindFiling(id int64) (Filing, bool)
	FindBusiness(id int64) (Business, bool)
	FindBusinessByIdentifier(identifier string) (Business, bool)
	BusinessAsOf(id, transactionID int64) (Business, bool)
	FilingAsOf(id, transactionID int64) (Filing, bool)
	Versions(entity EntityType, id int64) []Version
	LastTransactionID() int64
}

// FilingWriter seeds filings into the store. Filings arrive from the API
// layer; the filer only reads and completes them.
type FilingWriter interface {
	SaveFiling(ctx context.Context, f Filing) (Filing, error)
}
