package filer

import (
	"context"
	"fmt"
	"regexp"

	"entityfiler/pkg/domain"
)

// NewDefaultRulesEngine returns an engine with the commit-time registry rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(IdentifierFormatRule(), HistoricalClosureRule(), CompletedFilingBusinessRule())
	return engine
}

var identifierPattern = regexp.MustCompile(`^[A-Z]{1,3}[0-9]{7}$`)

type identifierFormatRule struct{}

// IdentifierFormatRule blocks businesses whose identifier is not a registry
// prefix followed by seven digits.
func IdentifierFormatRule() domain.Rule { return identifierFormatRule{} }

func (identifierFormatRule) Name() string { return "identifier_format" }

func (identifierFormatRule) Entities() []domain.EntityType {
	return []domain.EntityType{domain.EntityBusiness}
}

func (identifierFormatRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		b, ok := ch.After.(domain.Business)
		if !ok {
			continue
		}
		if !identifierPattern.MatchString(b.Identifier) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "identifier_format",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("identifier %q is not a registry identifier", b.Identifier),
				Entity:   domain.EntityBusiness,
				EntityID: b.ID,
			})
		}
	}
	return res, nil
}

type historicalClosureRule struct{}

// HistoricalClosureRule blocks a HISTORICAL business that records neither a
// dissolution, a continuation out nor the filing that closed it.
func HistoricalClosureRule() domain.Rule { return historicalClosureRule{} }

func (historicalClosureRule) Name() string { return "historical_closure" }

func (historicalClosureRule) Entities() []domain.EntityType {
	return []domain.EntityType{domain.EntityBusiness}
}

func (historicalClosureRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		b, ok := ch.After.(domain.Business)
		if !ok || b.State != domain.StateHistorical {
			continue
		}
		if b.DissolutionDate == nil && b.ContinuationOut == nil && b.StateFilingID == nil {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "historical_closure",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("business %s is historical without a closing filing", b.Identifier),
				Entity:   domain.EntityBusiness,
				EntityID: b.ID,
			})
		}
	}
	return res, nil
}

type completedFilingBusinessRule struct{}

// CompletedFilingBusinessRule blocks a COMPLETED filing that is not attached
// to an existing business.
func CompletedFilingBusinessRule() domain.Rule { return completedFilingBusinessRule{} }

func (completedFilingBusinessRule) Name() string { return "completed_filing_business" }

func (completedFilingBusinessRule) Entities() []domain.EntityType {
	return []domain.EntityType{domain.EntityFiling}
}

func (completedFilingBusinessRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, ch := range changes {
		f, ok := ch.After.(domain.Filing)
		if !ok || f.Status != domain.FilingCompleted {
			continue
		}
		if f.BusinessID != nil {
			if _, found := view.FindBusiness(*f.BusinessID); found {
				continue
			}
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "completed_filing_business",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("filing %d completed without a business", f.ID),
			Entity:   domain.EntityFiling,
			EntityID: f.ID,
		})
	}
	return res, nil
}
