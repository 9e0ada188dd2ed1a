package domain

import (
	"context"
	"fmt"
)

// RuleView is the read side a rule sees: the store as it will look if the
// transaction commits.
type RuleView interface {
	ListBusinesses() []Business
	FindBusiness(id int64) (Business, bool)
	FindBusinessByIdentifier(identifier string) (Business, bool)
	FindFiling(id int64) (Filing, bool)
}

// Rule checks the changes of a transaction before they are committed.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// ScopedRule is implemented by rules that only care about some entity types.
// The engine skips them when a transaction touches none of those types.
type ScopedRule interface {
	Rule
	Entities() []EntityType
}

// RulesEngine runs every registered rule against a transaction's changes.
type RulesEngine struct {
	rules []Rule
}

func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends rules in evaluation order.
func (e *RulesEngine) Register(rules ...Rule) {
	e.rules = append(e.rules, rules...)
}

// Rules returns the registered rule names in evaluation order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate merges the results of every applicable rule. Violations a rule
// leaves unattributed are stamped with its name. The first rule error aborts
// evaluation.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		if !applies(rule, changes) {
			continue
		}
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		for i := range res.Violations {
			if res.Violations[i].Rule == "" {
				res.Violations[i].Rule = rule.Name()
			}
		}
		combined.Merge(res)
	}
	return combined, nil
}

func applies(rule Rule, changes []Change) bool {
	scoped, ok := rule.(ScopedRule)
	if !ok {
		return true
	}
	for _, c := range changes {
		for _, entity := range scoped.Entities() {
			if c.Entity == entity {
				return true
			}
		}
	}
	return false
}
