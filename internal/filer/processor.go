package filer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entityfiler/pkg/domain"
)

// Message is one inbound queue delivery. Value carries {"filing":{"id":N}}.
type Message struct {
	Key   []byte
	Value []byte
}

// DecodeMessage extracts the filing id from a message body.
func DecodeMessage(value []byte) (int64, error) {
	var body struct {
		Filing *struct {
			ID int64 `json:"id"`
		} `json:"filing"`
	}
	if err := json.Unmarshal(value, &body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if body.Filing == nil || body.Filing.ID <= 0 {
		return 0, fmt.Errorf("%w: missing filing id", ErrInvalidMessage)
	}
	return body.Filing.ID, nil
}

// EncodeMessage renders the message body for a filing id.
func EncodeMessage(filingID int64) []byte {
	b, _ := json.Marshal(map[string]any{"filing": map[string]any{"id": filingID}})
	return b
}

// Validator checks an envelope against the business before any transition runs.
type Validator interface {
	Validate(ctx context.Context, business *domain.Business, env Envelope) []ValidationError
}

// ValidatorFunc adapts a function into a Validator.
type ValidatorFunc func(ctx context.Context, business *domain.Business, env Envelope) []ValidationError

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, business *domain.Business, env Envelope) []ValidationError {
	return f(ctx, business, env)
}

// Outcome is the committed result of one processing run, handed to the cascade.
type Outcome struct {
	Filing        domain.Filing
	Business      domain.Business
	Envelope      Envelope
	Applied       []FilingType
	TransactionID int64
	// Skipped is set when the filing was already completed or carried no
	// registered legal filing; nothing was written.
	Skipped bool
}

// Has reports whether t was applied in the run.
func (o Outcome) Has(t FilingType) bool {
	for _, applied := range o.Applied {
		if applied == t {
			return true
		}
	}
	return false
}

var errAlreadyCompleted = errors.New("filing already completed")

// Processor is the dispatch loop: it applies every legal filing of a
// submission to the business inside one unit of work and then runs the
// post-commit cascade.
type Processor struct {
	store    domain.PersistentStore
	registry *Registry
	cascade  *Cascade
	settings
}

// NewProcessor wires the dispatch loop. cascade may be nil.
func NewProcessor(store domain.PersistentStore, registry *Registry, cascade *Cascade, opts ...Option) *Processor {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Processor{
		store:    store,
		registry: registry,
		cascade:  cascade,
		settings: applyOptions(opts),
	}
}

// Registry exposes the transition registry.
func (p *Processor) Registry() *Registry { return p.registry }

// Process handles one queue message. It returns nil for an already completed
// filing, a *ProcessingError when the message does not resolve to a filing, a
// *StoreError when the store failed, and any other error when the run was
// rejected. The cascade has finished when Process returns.
func (p *Processor) Process(ctx context.Context, msg Message) (err error) {
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "process_filing")
	defer func() {
		span.End(err)
		p.metrics.Observe(ctx, "process_filing", err == nil, time.Since(started))
	}()

	id, err := DecodeMessage(msg.Value)
	if err != nil {
		p.logger.Error("undecodable filing message", "error", err, "message", string(msg.Value))
		return &ProcessingError{Err: err}
	}
	outcome, err := p.ProcessFiling(ctx, id)
	if err != nil {
		return err
	}
	if outcome.Skipped || p.cascade == nil {
		return nil
	}
	p.cascade.Run(ctx, outcome).Wait()
	return nil
}

// ProcessFiling runs the dispatch loop for one filing id without the cascade.
func (p *Processor) ProcessFiling(ctx context.Context, id int64) (Outcome, error) {
	filing, ok := p.store.FindFiling(id)
	if !ok {
		p.logger.Error("filing not found", "filing_id", id)
		return Outcome{}, &ProcessingError{FilingID: id, Err: ErrFilingNotFound}
	}
	if filing.Completed() {
		p.logger.Warn("attempting to reprocess completed filing", "filing_id", id, "business_id", filing.BusinessID)
		return Outcome{Filing: filing, Skipped: true}, nil
	}
	env, err := ParseEnvelope(filing.JSON)
	if err != nil {
		return Outcome{}, fmt.Errorf("filing %d: %w", id, err)
	}
	plan := p.registry.Plan(env.Keys())
	if len(plan) == 0 {
		p.logger.Warn("filing carries no registered legal filing", "filing_id", id, "keys", env.Keys())
		return Outcome{Filing: filing, Envelope: env, Skipped: true}, nil
	}

	var (
		businessID int64
		txID       int64
	)
	_, err = p.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		txID = tx.ID()
		var runErr error
		businessID, runErr = p.apply(ctx, tx, id, env, plan)
		return runErr
	})
	if errors.Is(err, errAlreadyCompleted) {
		return Outcome{Filing: filing, Skipped: true}, nil
	}
	if err != nil {
		err = p.classifyStoreError(id, err)
		p.logger.Error("filing processing rolled back", "filing_id", id, "transaction_id", txID, "error", err)
		return Outcome{}, err
	}

	committed, _ := p.store.FindFiling(id)
	business, _ := p.store.FindBusiness(businessID)
	p.logger.Info("filing completed",
		"filing_id", id,
		"filing_type", committed.FilingType,
		"identifier", business.Identifier,
		"transaction_id", committed.TransactionID,
		"legal_filings", env.LegalFilings(),
	)
	return Outcome{
		Filing:        committed,
		Business:      business,
		Envelope:      env,
		Applied:       plan,
		TransactionID: committed.TransactionID,
	}, nil
}

// apply runs inside the unit of work and returns the id of the business the
// filing ends up attached to.
func (p *Processor) apply(ctx context.Context, tx domain.Transaction, id int64, env Envelope, plan []FilingType) (int64, error) {
	current, ok := tx.FindFiling(id)
	if !ok {
		return 0, &ProcessingError{FilingID: id, Err: ErrFilingNotFound}
	}
	if current.Completed() {
		return 0, errAlreadyCompleted
	}

	var business *domain.Business
	if current.BusinessID != nil {
		b, ok := tx.FindBusiness(*current.BusinessID)
		if !ok {
			return 0, domain.ErrNotFound{Entity: domain.EntityBusiness, ID: *current.BusinessID}
		}
		business = &b
	}

	if p.validator != nil {
		if errs := p.validator.Validate(ctx, business, env); len(errs) > 0 {
			return 0, &ValidationFailedError{Errors: errs}
		}
	}

	meta := NewFilingMeta(current.EffectiveDate, env.LegalFilings())
	for _, t := range plan {
		if business == nil && !t.CreatesBusiness() {
			return 0, &TransitionError{FilingType: t, Err: ErrBusinessRequired}
		}
		transition, _ := p.registry.Lookup(t)
		payload, _ := env.Payload(t)
		p.logger.Debug("applying transition", "filing_id", id, "filing_type", t)
		out, err := transition.Apply(ctx, Input{
			Business: business,
			Filing:   current,
			Envelope: env,
			Payload:  payload,
			Meta:     meta,
			Tx:       tx,
		})
		if err != nil {
			return 0, &TransitionError{FilingType: t, Err: err}
		}
		if out.Business != nil {
			business = out.Business
		}
		if out.Filing.ID == id {
			current = out.Filing
		}
	}
	if business == nil {
		return 0, &TransitionError{FilingType: plan[len(plan)-1], Err: ErrBusinessRequired}
	}

	var persisted domain.Business
	var err error
	if business.ID == 0 {
		persisted, err = tx.CreateBusiness(*business)
	} else {
		next := *business
		persisted, err = tx.UpdateBusiness(business.ID, func(b *domain.Business) error {
			*b = next
			return nil
		})
	}
	if err != nil {
		return 0, err
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("encode filing meta: %w", err)
	}
	legalType := persisted.LegalType
	if legalType == "" {
		legalType = env.Business.LegalType
	}
	completedAt := p.clock.Now()
	_, err = tx.UpdateFiling(id, func(f *domain.Filing) error {
		*f = current
		f.ID = id
		bid := persisted.ID
		f.BusinessID = &bid
		if f.FilingType == "" {
			f.FilingType = env.Header.Name
		}
		if f.FilingType == "" {
			f.FilingType = string(plan[0])
		}
		f.Meta = metaJSON
		f.SetProcessed(legalType, completedAt)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return persisted.ID, nil
}

// classifyStoreError wraps durable-backend and context failures in StoreError
// so the worker redelivers the message. An identifier collision is retried
// too: the next run allocates a fresh identifier.
func (p *Processor) classifyStoreError(id int64, err error) error {
	var (
		perr     *domain.PersistenceError
		conflict domain.IdentifierConflictError
	)
	if errors.As(err, &perr) || errors.As(err, &conflict) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &StoreError{FilingID: id, Err: err}
	}
	return err
}
