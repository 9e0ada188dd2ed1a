// Package domain defines the registry aggregates, the versioned store contract,
// and the commit-time rule primitives used by the entity filer.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the kind of versioned row stored by the entity store.
type EntityType string

// Versioned row kinds recorded in Change and Version entries.
const (
	// EntityBusiness identifies the business row (scalar attributes only).
	EntityBusiness EntityType = "business"
	// EntityOffice identifies an office owned by a business.
	EntityOffice EntityType = "office"
	// EntityPartyRole identifies a party holding a role in a business.
	EntityPartyRole EntityType = "party_role"
	// EntityShareClass identifies a share class, series included.
	EntityShareClass EntityType = "share_class"
	// EntityAlias identifies a name translation.
	EntityAlias EntityType = "alias"
	// EntityDocument identifies a stored document reference.
	EntityDocument EntityType = "document"
	// EntityResolution identifies a recorded resolution.
	EntityResolution EntityType = "resolution"
	// EntityFiling identifies a filing record.
	EntityFiling EntityType = "filing"
)

// Action indicates the type of change applied to a row.
type Action string

// Row change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// BusinessState is the lifecycle state of a business.
type BusinessState string

// Business states.
const (
	StateActive      BusinessState = "ACTIVE"
	StateHistorical  BusinessState = "HISTORICAL"
	StateLiquidation BusinessState = "LIQUIDATION"
)

// Legal type codes.
const (
	LegalTypeBC          = "BC"
	LegalTypeBenefit     = "BEN"
	LegalTypeULC         = "ULC"
	LegalTypeCCC         = "CC"
	LegalTypeCoop        = "CP"
	LegalTypeSoleProp    = "SP"
	LegalTypePartnership = "GP"
)

// IsFirm reports whether the legal type is a registered firm.
func IsFirm(legalType string) bool {
	return legalType == LegalTypeSoleProp || legalType == LegalTypePartnership
}

// OfficeType names an office kind.
type OfficeType string

// Office kinds.
const (
	OfficeRegistered OfficeType = "registeredOffice"
	OfficeRecords    OfficeType = "recordsOffice"
	OfficeBusiness   OfficeType = "businessOffice"
)

// RoleType names a party role.
type RoleType string

// Party roles.
const (
	RoleDirector        RoleType = "director"
	RoleIncorporator    RoleType = "incorporator"
	RoleCompletingParty RoleType = "completing_party"
	RolePartner         RoleType = "partner"
	RoleProprietor      RoleType = "proprietor"
	RoleCustodian       RoleType = "custodian"
)

// Address is a postal address in the registry's wire shape.
type Address struct {
	StreetAddress           string `json:"streetAddress"`
	StreetAddressAdditional string `json:"streetAddressAdditional,omitempty"`
	AddressCity             string `json:"addressCity"`
	AddressRegion           string `json:"addressRegion,omitempty"`
	PostalCode              string `json:"postalCode,omitempty"`
	AddressCountry          string `json:"addressCountry"`
	DeliveryInstructions    string `json:"deliveryInstructions,omitempty"`
}

// Office is a typed office with its delivery and mailing addresses.
type Office struct {
	ID              int64      `json:"id"`
	Type            OfficeType `json:"officeType"`
	DeliveryAddress Address    `json:"deliveryAddress"`
	MailingAddress  Address    `json:"mailingAddress"`
	TransactionID   int64      `json:"transactionId"`
}

// Party is a person or organization.
type Party struct {
	Type             string   `json:"partyType"`
	FirstName        string   `json:"firstName,omitempty"`
	MiddleInitial    string   `json:"middleInitial,omitempty"`
	LastName         string   `json:"lastName,omitempty"`
	OrganizationName string   `json:"organizationName,omitempty"`
	Identifier       string   `json:"identifier,omitempty"`
	Email            string   `json:"email,omitempty"`
	DeliveryAddress  *Address `json:"deliveryAddress,omitempty"`
	MailingAddress   *Address `json:"mailingAddress,omitempty"`
}

// Name renders the display name for the party.
func (p Party) Name() string {
	if p.OrganizationName != "" {
		return p.OrganizationName
	}
	name := p.FirstName
	if p.MiddleInitial != "" {
		name += " " + p.MiddleInitial
	}
	if p.LastName != "" {
		name += " " + p.LastName
	}
	return name
}

// PartyRole binds a party to a business role for a period.
type PartyRole struct {
	ID              int64      `json:"id"`
	Role            RoleType   `json:"role"`
	Party           Party      `json:"party"`
	AppointmentDate time.Time  `json:"appointmentDate"`
	CessationDate   *time.Time `json:"cessationDate,omitempty"`
	TransactionID   int64      `json:"transactionId"`
}

// Active reports whether the role has not ceased.
func (r PartyRole) Active() bool { return r.CessationDate == nil }

// ShareSeries is a series within a share class.
type ShareSeries struct {
	Name                    string `json:"name"`
	Priority                int    `json:"priority"`
	HasMaximumShares        bool   `json:"hasMaximumShares"`
	MaxNumberOfShares       *int64 `json:"maxNumberOfShares,omitempty"`
	HasRightsOrRestrictions bool   `json:"hasRightsOrRestrictions"`
}

// ShareClass is a class of shares with its nested series.
type ShareClass struct {
	ID                      int64            `json:"id"`
	Name                    string           `json:"name"`
	Priority                int              `json:"priority"`
	HasMaximumShares        bool             `json:"hasMaximumShares"`
	MaxNumberOfShares       *int64           `json:"maxNumberOfShares,omitempty"`
	HasParValue             bool             `json:"hasParValue"`
	ParValue                *decimal.Decimal `json:"parValue,omitempty"`
	Currency                string           `json:"currency,omitempty"`
	HasRightsOrRestrictions bool             `json:"hasRightsOrRestrictions"`
	Series                  []ShareSeries    `json:"series,omitempty"`
	TransactionID           int64            `json:"transactionId"`
}

// Alias is an alternate business name.
type Alias struct {
	ID            int64  `json:"id"`
	Alias         string `json:"alias"`
	Type          string `json:"type"`
	TransactionID int64  `json:"transactionId"`
}

// AliasTranslation is the alias type used for name translations.
const AliasTranslation = "TRANSLATION"

// Document references a blob held in the document store.
type Document struct {
	ID            int64  `json:"id"`
	Type          string `json:"type"`
	FileKey       string `json:"fileKey"`
	FilingID      int64  `json:"filingId"`
	TransactionID int64  `json:"transactionId"`
}

// Document types.
const (
	DocumentCoopRules      = "coop_rules"
	DocumentCoopMemorandum = "coop_memorandum"
)

// Resolution records a resolution passed by the business.
type Resolution struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	Date          time.Time `json:"resolutionDate"`
	Text          string    `json:"resolution,omitempty"`
	SignedBy      string    `json:"signatory,omitempty"`
	TransactionID int64     `json:"transactionId"`
}

// Jurisdiction identifies a foreign registry a business continued into.
type Jurisdiction struct {
	Country    string    `json:"country"`
	Region     string    `json:"region,omitempty"`
	LegalName  string    `json:"legalName,omitempty"`
	Identifier string    `json:"identifier,omitempty"`
	Date       time.Time `json:"continuationOutDate"`
}

// Business is the aggregate representing a legal entity. Businesses are never
// deleted; filings move them between states.
type Business struct {
	ID                    int64         `json:"id"`
	Identifier            string        `json:"identifier"`
	LegalName             string        `json:"legalName"`
	LegalType             string        `json:"legalType"`
	State                 BusinessState `json:"state"`
	StateFilingID         *int64        `json:"stateFilingId,omitempty"`
	FoundingDate          time.Time     `json:"foundingDate"`
	DissolutionDate       *time.Time    `json:"dissolutionDate,omitempty"`
	RestorationExpiryDate *time.Time    `json:"restorationExpiryDate,omitempty"`
	AdminFreeze           bool          `json:"adminFreeze"`
	RestrictionInd        bool          `json:"restrictionInd"`
	LastARDate            *time.Time    `json:"lastArDate,omitempty"`
	LastAGMDate           *time.Time    `json:"lastAgmDate,omitempty"`
	LastARYear            int           `json:"lastArYear,omitempty"`
	LastCOADate           *time.Time    `json:"lastCoaDate,omitempty"`
	LastCODDate           *time.Time    `json:"lastCodDate,omitempty"`
	ContinuationOut       *Jurisdiction `json:"continuationOut,omitempty"`
	NaicsDescription      string        `json:"naicsDescription,omitempty"`
	TransactionID         int64         `json:"transactionId"`

	Offices      []Office     `json:"offices,omitempty"`
	PartyRoles   []PartyRole  `json:"partyRoles,omitempty"`
	ShareClasses []ShareClass `json:"shareClasses,omitempty"`
	Aliases      []Alias      `json:"aliases,omitempty"`
	Documents    []Document   `json:"documents,omitempty"`
	Resolutions  []Resolution `json:"resolutions,omitempty"`
}

// Office returns the office of the given type.
func (b *Business) Office(t OfficeType) (*Office, bool) {
	for i := range b.Offices {
		if b.Offices[i].Type == t {
			return &b.Offices[i], true
		}
	}
	return nil, false
}

// ActiveRoles returns the active party roles of the given type.
func (b *Business) ActiveRoles(role RoleType) []PartyRole {
	var out []PartyRole
	for _, r := range b.PartyRoles {
		if r.Role == role && r.Active() {
			out = append(out, r)
		}
	}
	return out
}

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
)

// Change describes a mutation applied during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Rule + ": " + v.Message
		}
	}
	return "transaction blocked by rules"
}
