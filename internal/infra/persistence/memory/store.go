// Package memory provides the in-memory implementation of the versioned entity
// store. The durable backends wrap it and persist each commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"entityfiler/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.FilingWriter    = (*Store)(nil)
)

type (
	// Business aliases domain.Business for in-memory persistence operations.
	Business = domain.Business
	// Filing aliases domain.Filing.
	Filing = domain.Filing
	// Version aliases domain.Version.
	Version = domain.Version
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	businesses  map[int64]Business
	identifiers map[string]int64
	filings     map[int64]Filing
	versions    []Version
	lastTxID    int64
	sequences   map[domain.EntityType]int64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Businesses        map[int64]Business          `json:"businesses"`
	Filings           map[int64]Filing            `json:"filings"`
	Versions          []Version                   `json:"versions"`
	LastTransactionID int64                       `json:"lastTransactionId"`
	Sequences         map[domain.EntityType]int64 `json:"sequences"`
}

// Commit is the set of rows written by one successful unit of work.
type Commit struct {
	TransactionID int64
	IssuedAt      time.Time
	Businesses    []Business
	Filings       []Filing
	Versions      []Version
	Sequences     map[domain.EntityType]int64
}

// CommitHook persists a commit before it becomes visible. A hook error aborts
// the unit of work and leaves the in-memory state untouched.
type CommitHook func(ctx context.Context, c Commit) error

func newMemoryState() memoryState {
	return memoryState{
		businesses:  make(map[int64]Business),
		identifiers: make(map[string]int64),
		filings:     make(map[int64]Filing),
		sequences:   make(map[domain.EntityType]int64),
	}
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		businesses:  make(map[int64]Business, len(s.businesses)),
		identifiers: make(map[string]int64, len(s.identifiers)),
		filings:     make(map[int64]Filing, len(s.filings)),
		versions:    s.versions[:len(s.versions):len(s.versions)],
		lastTxID:    s.lastTxID,
		sequences:   make(map[domain.EntityType]int64, len(s.sequences)),
	}
	// Values are replaced wholesale on write, so sharing them here is safe.
	for k, v := range s.businesses {
		c.businesses[k] = v
	}
	for k, v := range s.identifiers {
		c.identifiers[k] = v
	}
	for k, v := range s.filings {
		c.filings[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Businesses:        make(map[int64]Business, len(state.businesses)),
		Filings:           make(map[int64]Filing, len(state.filings)),
		Versions:          append([]Version(nil), state.versions...),
		LastTransactionID: state.lastTxID,
		Sequences:         make(map[domain.EntityType]int64, len(state.sequences)),
	}
	for k, v := range state.businesses {
		s.Businesses[k] = cloneBusiness(v)
	}
	for k, v := range state.filings {
		s.Filings[k] = cloneFiling(v)
	}
	for k, v := range state.sequences {
		s.Sequences[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Businesses {
		state.businesses[k] = cloneBusiness(v)
		if v.Identifier != "" {
			state.identifiers[v.Identifier] = k
		}
	}
	for k, v := range s.Filings {
		state.filings[k] = cloneFiling(v)
	}
	state.versions = append(state.versions, s.Versions...)
	state.lastTxID = s.LastTransactionID
	for k, v := range s.Sequences {
		state.sequences[k] = v
	}
	return state
}

// Store is an in-memory, versioned entity store. Units of work are serialized
// by a mutex; readers only ever observe committed state.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hooks  []CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// OnCommit registers a hook invoked with every commit before it is applied.
func (s *Store) OnCommit(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// SetNowFunc overrides the clock used to timestamp commits.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// RunInTransaction mints the next transaction id, runs fn against a private
// copy of the state, stamps and versions every mutated row, evaluates the
// rules, runs commit hooks and finally swaps the copy in. Any failure leaves
// the committed state unchanged.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store:      s,
		id:         s.state.lastTxID + 1,
		state:      s.state.clone(),
		now:        s.nowFn(),
		businesses: make(map[int64]struct{}),
		filings:    make(map[int64]struct{}),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	commit, err := tx.seal(s.state)
	if err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	for _, hook := range s.hooks {
		if err := hook(ctx, commit); err != nil {
			return result, err
		}
	}

	tx.state.versions = append(tx.state.versions, commit.Versions...)
	tx.state.lastTxID = tx.id
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

// SaveFiling inserts a new filing in its own unit of work.
func (s *Store) SaveFiling(ctx context.Context, f Filing) (Filing, error) {
	var created Filing
	_, err := s.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateFiling(f)
		return err
	})
	if err != nil {
		return Filing{}, err
	}
	stored, _ := s.FindFiling(created.ID)
	return stored, nil
}

// FindFiling returns the committed filing.
func (s *Store) FindFiling(id int64) (Filing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.state.filings[id]
	if !ok {
		return Filing{}, false
	}
	return cloneFiling(f), true
}

// ListFilings returns all committed filings ordered by id.
func (s *Store) ListFilings() []Filing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Filing, 0, len(s.state.filings))
	for _, f := range s.state.filings {
		out = append(out, cloneFiling(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindBusiness returns the committed business by internal id.
func (s *Store) FindBusiness(id int64) (Business, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.businesses[id]
	if !ok {
		return Business{}, false
	}
	return cloneBusiness(b), true
}

// FindBusinessByIdentifier returns the committed business by public identifier.
func (s *Store) FindBusinessByIdentifier(identifier string) (Business, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.state.identifiers[identifier]
	if !ok {
		return Business{}, false
	}
	return cloneBusiness(s.state.businesses[id]), true
}

// ListBusinesses returns all committed businesses ordered by id.
func (s *Store) ListBusinesses() []Business {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBusinesses(&s.state)
}

// LastTransactionID returns the id of the most recent commit.
func (s *Store) LastTransactionID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.lastTxID
}

// Versions returns the version history of one row, oldest first.
func (s *Store) Versions(entity domain.EntityType, id int64) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Version
	for _, v := range s.state.versions {
		if v.Entity == entity && v.EntityID == id {
			out = append(out, v)
		}
	}
	return out
}

// BusinessAsOf reconstructs the business aggregate as it stood after the given transaction.
func (s *Store) BusinessAsOf(id, transactionID int64) (Business, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return businessAsOf(s.state.versions, id, transactionID)
}

// FilingAsOf reconstructs the filing as it stood after the given transaction.
func (s *Store) FilingAsOf(id, transactionID int64) (Filing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filingAsOf(s.state.versions, id, transactionID)
}

// transaction represents a mutation set applied to a private copy of the state.
type transaction struct {
	store      *Store
	id         int64
	state      memoryState
	changes    []Change
	now        time.Time
	businesses map[int64]struct{}
	filings    map[int64]struct{}
}

func (tx *transaction) ID() int64 { return tx.id }

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) nextID(kind domain.EntityType) int64 {
	tx.state.sequences[kind]++
	return tx.state.sequences[kind]
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) FindBusiness(id int64) (Business, bool) {
	b, ok := tx.state.businesses[id]
	if !ok {
		return Business{}, false
	}
	return cloneBusiness(b), true
}

func (tx *transaction) FindBusinessByIdentifier(identifier string) (Business, bool) {
	id, ok := tx.state.identifiers[identifier]
	if !ok {
		return Business{}, false
	}
	return tx.FindBusiness(id)
}

func (tx *transaction) FindFiling(id int64) (Filing, bool) {
	f, ok := tx.state.filings[id]
	if !ok {
		return Filing{}, false
	}
	return cloneFiling(f), true
}

// CreateFiling stores a new filing, defaulting its status to PENDING.
func (tx *transaction) CreateFiling(f Filing) (Filing, error) {
	if f.ID == 0 {
		f.ID = tx.nextID(domain.EntityFiling)
	} else if f.ID > tx.state.sequences[domain.EntityFiling] {
		tx.state.sequences[domain.EntityFiling] = f.ID
	}
	if _, exists := tx.state.filings[f.ID]; exists {
		return Filing{}, fmt.Errorf("filing %d already exists", f.ID)
	}
	if f.Status == "" {
		f.Status = domain.FilingPending
	}
	if f.FilingDate.IsZero() {
		f.FilingDate = tx.now
	}
	if f.EffectiveDate.IsZero() {
		f.EffectiveDate = f.FilingDate
	}
	tx.state.filings[f.ID] = cloneFiling(f)
	tx.filings[f.ID] = struct{}{}
	tx.recordChange(Change{Entity: domain.EntityFiling, Action: domain.ActionCreate, After: cloneFiling(f)})
	return cloneFiling(f), nil
}

// UpdateFiling mutates a filing using the provided mutator function.
func (tx *transaction) UpdateFiling(id int64, mutator func(*Filing) error) (Filing, error) {
	current, ok := tx.state.filings[id]
	if !ok {
		return Filing{}, domain.ErrNotFound{Entity: domain.EntityFiling, ID: id}
	}
	before := cloneFiling(current)
	current = cloneFiling(current)
	if err := mutator(&current); err != nil {
		return Filing{}, err
	}
	current.ID = id
	tx.state.filings[id] = cloneFiling(current)
	tx.filings[id] = struct{}{}
	tx.recordChange(Change{Entity: domain.EntityFiling, Action: domain.ActionUpdate, Before: before, After: cloneFiling(current)})
	return cloneFiling(current), nil
}

// CreateBusiness stores a new business and assigns ids to it and its rows.
func (tx *transaction) CreateBusiness(b Business) (Business, error) {
	if b.Identifier == "" {
		return Business{}, fmt.Errorf("business identifier required")
	}
	if owner, taken := tx.state.identifiers[b.Identifier]; taken {
		return Business{}, domain.IdentifierConflictError{Identifier: b.Identifier, BusinessID: owner}
	}
	b = cloneBusiness(b)
	b.ID = tx.nextID(domain.EntityBusiness)
	tx.assignRowIDs(&b)
	tx.state.businesses[b.ID] = b
	tx.state.identifiers[b.Identifier] = b.ID
	tx.businesses[b.ID] = struct{}{}
	tx.recordChange(Change{Entity: domain.EntityBusiness, Action: domain.ActionCreate, After: cloneBusiness(b)})
	return cloneBusiness(b), nil
}

// UpdateBusiness mutates a business using the provided mutator function.
func (tx *transaction) UpdateBusiness(id int64, mutator func(*Business) error) (Business, error) {
	current, ok := tx.state.businesses[id]
	if !ok {
		return Business{}, domain.ErrNotFound{Entity: domain.EntityBusiness, ID: id}
	}
	before := cloneBusiness(current)
	current = cloneBusiness(current)
	if err := mutator(&current); err != nil {
		return Business{}, err
	}
	current.ID = id
	if current.Identifier != before.Identifier {
		if owner, taken := tx.state.identifiers[current.Identifier]; taken && owner != id {
			return Business{}, domain.IdentifierConflictError{Identifier: current.Identifier, BusinessID: owner}
		}
		delete(tx.state.identifiers, before.Identifier)
		tx.state.identifiers[current.Identifier] = id
	}
	tx.assignRowIDs(&current)
	tx.state.businesses[id] = cloneBusiness(current)
	tx.businesses[id] = struct{}{}
	tx.recordChange(Change{Entity: domain.EntityBusiness, Action: domain.ActionUpdate, Before: before, After: cloneBusiness(current)})
	return cloneBusiness(current), nil
}

func (tx *transaction) assignRowIDs(b *Business) {
	for i := range b.Offices {
		if b.Offices[i].ID == 0 {
			b.Offices[i].ID = tx.nextID(domain.EntityOffice)
		}
	}
	for i := range b.PartyRoles {
		if b.PartyRoles[i].ID == 0 {
			b.PartyRoles[i].ID = tx.nextID(domain.EntityPartyRole)
		}
	}
	for i := range b.ShareClasses {
		if b.ShareClasses[i].ID == 0 {
			b.ShareClasses[i].ID = tx.nextID(domain.EntityShareClass)
		}
	}
	for i := range b.Aliases {
		if b.Aliases[i].ID == 0 {
			b.Aliases[i].ID = tx.nextID(domain.EntityAlias)
		}
	}
	for i := range b.Documents {
		if b.Documents[i].ID == 0 {
			b.Documents[i].ID = tx.nextID(domain.EntityDocument)
		}
	}
	for i := range b.Resolutions {
		if b.Resolutions[i].ID == 0 {
			b.Resolutions[i].ID = tx.nextID(domain.EntityResolution)
		}
	}
}

// seal stamps the transaction id on every row that differs from the committed
// state and returns the resulting commit with its version images.
func (tx *transaction) seal(committed memoryState) (Commit, error) {
	c := Commit{TransactionID: tx.id, IssuedAt: tx.now}
	for _, id := range sortedIDs(tx.businesses) {
		after := cloneBusiness(tx.state.businesses[id])
		before, existed := committed.businesses[id]
		versions, err := diffBusiness(before, existed, &after, tx.id)
		if err != nil {
			return Commit{}, err
		}
		if len(versions) == 0 {
			continue
		}
		tx.state.businesses[id] = after
		c.Businesses = append(c.Businesses, cloneBusiness(after))
		c.Versions = append(c.Versions, versions...)
	}
	for _, id := range sortedIDs(tx.filings) {
		after := cloneFiling(tx.state.filings[id])
		before, existed := committed.filings[id]
		v, changed, err := diffFiling(before, existed, &after, tx.id)
		if err != nil {
			return Commit{}, err
		}
		if !changed {
			continue
		}
		tx.state.filings[id] = after
		c.Filings = append(c.Filings, cloneFiling(after))
		c.Versions = append(c.Versions, v)
	}
	c.Sequences = make(map[domain.EntityType]int64, len(tx.state.sequences))
	for k, v := range tx.state.sequences {
		c.Sequences[k] = v
	}
	return c, nil
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListBusinesses() []Business {
	return listBusinesses(v.state)
}

func (v transactionView) FindBusiness(id int64) (Business, bool) {
	b, ok := v.state.businesses[id]
	if !ok {
		return Business{}, false
	}
	return cloneBusiness(b), true
}

func (v transactionView) FindBusinessByIdentifier(identifier string) (Business, bool) {
	id, ok := v.state.identifiers[identifier]
	if !ok {
		return Business{}, false
	}
	return v.FindBusiness(id)
}

func (v transactionView) FindFiling(id int64) (Filing, bool) {
	f, ok := v.state.filings[id]
	if !ok {
		return Filing{}, false
	}
	return cloneFiling(f), true
}

func listBusinesses(state *memoryState) []Business {
	out := make([]Business, 0, len(state.businesses))
	for _, b := range state.businesses {
		out = append(out, cloneBusiness(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
