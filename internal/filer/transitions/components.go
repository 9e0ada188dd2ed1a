package transitions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"entityfiler/internal/filer"
	"entityfiler/pkg/domain"
)

type nameRequestPayload struct {
	NRNumber  string `json:"nrNumber"`
	LegalName string `json:"legalName"`
	LegalType string `json:"legalType"`
}

type officePayload struct {
	DeliveryAddress *domain.Address `json:"deliveryAddress"`
	MailingAddress  *domain.Address `json:"mailingAddress"`
}

type officerPayload struct {
	ID            int64  `json:"id"`
	FirstName     string `json:"firstName"`
	MiddleInitial string `json:"middleInitial"`
	MiddleName    string `json:"middleName"`
	LastName      string `json:"lastName"`
	OrgName       string `json:"orgName"`
	PartyType     string `json:"partyType"`
	Email         string `json:"email"`
	Identifier    string `json:"identifier"`
}

type rolePayload struct {
	RoleType        string `json:"roleType"`
	AppointmentDate string `json:"appointmentDate"`
	CessationDate   string `json:"cessationDate"`
}

type partyPayload struct {
	Officer         officerPayload  `json:"officer"`
	DeliveryAddress *domain.Address `json:"deliveryAddress"`
	MailingAddress  *domain.Address `json:"mailingAddress"`
	Roles           []rolePayload   `json:"roles"`
	Actions         []string        `json:"actions"`
}

type seriesPayload struct {
	Name                    string `json:"name"`
	Priority                int    `json:"priority"`
	HasMaximumShares        bool   `json:"hasMaximumShares"`
	MaxNumberOfShares       *int64 `json:"maxNumberOfShares"`
	HasRightsOrRestrictions bool   `json:"hasRightsOrRestrictions"`
}

type shareClassPayload struct {
	Name                    string           `json:"name"`
	Priority                int              `json:"priority"`
	HasMaximumShares        bool             `json:"hasMaximumShares"`
	MaxNumberOfShares       *int64           `json:"maxNumberOfShares"`
	HasParValue             bool             `json:"hasParValue"`
	ParValue                *decimal.Decimal `json:"parValue"`
	Currency                string           `json:"currency"`
	HasRightsOrRestrictions bool             `json:"hasRightsOrRestrictions"`
	Series                  []seriesPayload  `json:"series"`
}

type shareStructurePayload struct {
	ShareClasses    []shareClassPayload `json:"shareClasses"`
	ResolutionDates []string            `json:"resolutionDates"`
}

type translationPayload struct {
	Name string `json:"name"`
}

type courtOrderPayload struct {
	FileNumber    string `json:"fileNumber"`
	OrderDate     string `json:"orderDate"`
	EffectOfOrder string `json:"effectOfOrder"`
	OrderDetails  string `json:"orderDetails"`
}

type naicsPayload struct {
	NaicsCode        string `json:"naicsCode"`
	NaicsDescription string `json:"naicsDescription"`
}

type businessPayload struct {
	LegalType string       `json:"legalType"`
	Naics     naicsPayload `json:"naics"`
}

func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// parseDate accepts plain dates and RFC 3339 timestamps.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

// dateOr parses s, falling back to def when s is empty.
func dateOr(s string, def time.Time) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return parseDate(s)
}

func timePtr(t time.Time) *time.Time { return &t }

func int64Ptr(v int64) *int64 { return &v }

func dateString(t time.Time) string { return t.UTC().Format("2006-01-02") }

// numberedName renders the name given to a company incorporated without a
// name request.
func numberedName(identifier, legalType string) string {
	digits := identifier
	if len(digits) > 2 {
		digits = digits[2:]
	}
	switch legalType {
	case domain.LegalTypeULC:
		return digits + " B.C. UNLIMITED LIABILITY COMPANY"
	case domain.LegalTypeCCC:
		return digits + " B.C. COMMUNITY CONTRIBUTION COMPANY LTD."
	default:
		return digits + " B.C. LTD."
	}
}

func isTempIdentifier(identifier string) bool {
	return len(identifier) == 8 && identifier[0] == 'T'
}

// applyOffices writes the addresses of each payload office onto the business,
// creating offices that do not exist yet. Only the allowed office types are
// considered.
func applyOffices(b *domain.Business, offices map[string]officePayload, allowed ...domain.OfficeType) []string {
	var touched []string
	for _, t := range allowed {
		p, ok := offices[string(t)]
		if !ok {
			continue
		}
		office, exists := b.Office(t)
		if !exists {
			b.Offices = append(b.Offices, domain.Office{Type: t})
			office = &b.Offices[len(b.Offices)-1]
		}
		if p.DeliveryAddress != nil {
			office.DeliveryAddress = *p.DeliveryAddress
		}
		if p.MailingAddress != nil {
			office.MailingAddress = *p.MailingAddress
		} else if p.DeliveryAddress != nil && !exists {
			office.MailingAddress = *p.DeliveryAddress
		}
		touched = append(touched, string(t))
	}
	return touched
}

func roleType(raw string) domain.RoleType {
	return domain.RoleType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_"))
}

func partyFrom(p partyPayload) domain.Party {
	party := domain.Party{
		Type:             p.Officer.PartyType,
		FirstName:        strings.TrimSpace(p.Officer.FirstName),
		MiddleInitial:    strings.TrimSpace(p.Officer.MiddleInitial),
		LastName:         strings.TrimSpace(p.Officer.LastName),
		OrganizationName: strings.TrimSpace(p.Officer.OrgName),
		Identifier:       p.Officer.Identifier,
		Email:            p.Officer.Email,
		DeliveryAddress:  p.DeliveryAddress,
		MailingAddress:   p.MailingAddress,
	}
	if party.MiddleInitial == "" {
		party.MiddleInitial = strings.TrimSpace(p.Officer.MiddleName)
	}
	if party.Type == "" {
		party.Type = "person"
		if party.OrganizationName != "" {
			party.Type = "organization"
		}
	}
	return party
}

// newRoles builds one role per payload role entry.
func newRoles(parties []partyPayload, at time.Time) ([]domain.PartyRole, error) {
	var out []domain.PartyRole
	for _, p := range parties {
		party := partyFrom(p)
		for _, r := range p.Roles {
			appointed, err := dateOr(r.AppointmentDate, at)
			if err != nil {
				return nil, err
			}
			role := domain.PartyRole{Role: roleType(r.RoleType), Party: party, AppointmentDate: appointed}
			if r.CessationDate != "" {
				ceased, err := parseDate(r.CessationDate)
				if err != nil {
					return nil, err
				}
				role.CessationDate = &ceased
			}
			out = append(out, role)
		}
	}
	return out, nil
}

// replaceRoles ceases every active role of the types present in parties and
// appoints the payload's roles in their place.
func replaceRoles(b *domain.Business, parties []partyPayload, at time.Time) error {
	roles, err := newRoles(parties, at)
	if err != nil {
		return err
	}
	replaced := make(map[domain.RoleType]struct{})
	for _, r := range roles {
		replaced[r.Role] = struct{}{}
	}
	kept := b.PartyRoles[:0:0]
	for _, existing := range b.PartyRoles {
		if _, ok := replaced[existing.Role]; ok && existing.Active() {
			continue
		}
		kept = append(kept, existing)
	}
	b.PartyRoles = append(kept, roles...)
	return nil
}

func hasAction(p partyPayload, action string) bool {
	for _, a := range p.Actions {
		if strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}

// matchRoles returns the indexes of active roles held by the payload party.
// The officer id names a role id; without it the party name is compared.
func matchRoles(b *domain.Business, p partyPayload, only domain.RoleType) []int {
	want := partyFrom(p)
	var out []int
	for i, r := range b.PartyRoles {
		if !r.Active() || (only != "" && r.Role != only) {
			continue
		}
		if p.Officer.ID != 0 {
			if r.ID == p.Officer.ID {
				out = append(out, i)
			}
			continue
		}
		if strings.EqualFold(r.Party.Name(), want.Name()) {
			out = append(out, i)
		}
	}
	return out
}

// partyChanges summarizes the names appointed and ceased by applyPartyActions.
type partyChanges struct {
	Appointed []string
	Ceased    []string
	Modified  []string
}

// applyPartyActions interprets the per-party actions list used by director
// and firm party changes. A party without actions is appointed.
func applyPartyActions(b *domain.Business, parties []partyPayload, only domain.RoleType, at time.Time) (partyChanges, error) {
	var changes partyChanges
	for _, p := range parties {
		name := partyFrom(p).Name()
		switch {
		case hasAction(p, "ceased"):
			idx := matchRoles(b, p, only)
			if len(idx) == 0 {
				return changes, fmt.Errorf("cannot cease %q: no active role", name)
			}
			for _, i := range idx {
				b.PartyRoles[i].CessationDate = timePtr(at)
			}
			changes.Ceased = append(changes.Ceased, name)
		case hasAction(p, "appointed") || len(p.Actions) == 0:
			roles, err := newRoles([]partyPayload{p}, at)
			if err != nil {
				return changes, err
			}
			if len(roles) == 0 && only != "" {
				party := partyFrom(p)
				roles = []domain.PartyRole{{Role: only, Party: party, AppointmentDate: at}}
			}
			b.PartyRoles = append(b.PartyRoles, roles...)
			changes.Appointed = append(changes.Appointed, name)
		default:
			idx := matchRoles(b, p, only)
			if len(idx) == 0 {
				return changes, fmt.Errorf("cannot modify %q: no active role", name)
			}
			updated := partyFrom(p)
			for _, i := range idx {
				cur := &b.PartyRoles[i].Party
				if hasAction(p, "nameChanged") || hasAction(p, "modified") || hasAction(p, "edited") {
					cur.FirstName, cur.MiddleInitial, cur.LastName = updated.FirstName, updated.MiddleInitial, updated.LastName
					cur.OrganizationName = updated.OrganizationName
				}
				if hasAction(p, "addressChanged") || hasAction(p, "modified") || hasAction(p, "edited") {
					if updated.DeliveryAddress != nil {
						cur.DeliveryAddress = updated.DeliveryAddress
					}
					if updated.MailingAddress != nil {
						cur.MailingAddress = updated.MailingAddress
					}
				}
				if updated.Email != "" {
					cur.Email = updated.Email
				}
			}
			changes.Modified = append(changes.Modified, name)
		}
	}
	return changes, nil
}

func shareClasses(payload []shareClassPayload) []domain.ShareClass {
	out := make([]domain.ShareClass, 0, len(payload))
	for _, c := range payload {
		class := domain.ShareClass{
			Name:                    c.Name,
			Priority:                c.Priority,
			HasMaximumShares:        c.HasMaximumShares,
			MaxNumberOfShares:       c.MaxNumberOfShares,
			HasParValue:             c.HasParValue,
			Currency:                c.Currency,
			HasRightsOrRestrictions: c.HasRightsOrRestrictions,
		}
		if c.HasParValue && c.ParValue != nil {
			pv := *c.ParValue
			class.ParValue = &pv
		}
		for _, s := range c.Series {
			class.Series = append(class.Series, domain.ShareSeries(s))
		}
		out = append(out, class)
	}
	return out
}

// applyShareStructure replaces every share class and records each resolution date.
func applyShareStructure(b *domain.Business, p shareStructurePayload) error {
	b.ShareClasses = shareClasses(p.ShareClasses)
	for _, raw := range p.ResolutionDates {
		d, err := parseDate(raw)
		if err != nil {
			return err
		}
		if hasResolution(b, d) {
			continue
		}
		b.Resolutions = append(b.Resolutions, domain.Resolution{Type: "SPECIAL", Date: d})
	}
	return nil
}

func hasResolution(b *domain.Business, d time.Time) bool {
	for _, r := range b.Resolutions {
		if r.Type == "SPECIAL" && r.Date.Equal(d) {
			return true
		}
	}
	return false
}

// applyTranslations makes the business translations equal the payload set,
// keeping rows whose name is unchanged.
func applyTranslations(b *domain.Business, translations []translationPayload) {
	want := make(map[string]struct{}, len(translations))
	for _, t := range translations {
		if name := strings.TrimSpace(t.Name); name != "" {
			want[strings.ToUpper(name)] = struct{}{}
		}
	}
	kept := b.Aliases[:0:0]
	have := make(map[string]struct{})
	for _, a := range b.Aliases {
		if a.Type != domain.AliasTranslation {
			kept = append(kept, a)
			continue
		}
		if _, ok := want[strings.ToUpper(a.Alias)]; ok {
			kept = append(kept, a)
			have[strings.ToUpper(a.Alias)] = struct{}{}
		}
	}
	for _, t := range translations {
		name := strings.ToUpper(strings.TrimSpace(t.Name))
		if name == "" {
			continue
		}
		if _, ok := have[name]; ok {
			continue
		}
		kept = append(kept, domain.Alias{Alias: name, Type: domain.AliasTranslation})
		have[name] = struct{}{}
	}
	b.Aliases = kept
}

func courtOrderFrom(p *courtOrderPayload) (*domain.CourtOrder, error) {
	if p == nil || p.FileNumber == "" {
		return nil, nil
	}
	co := &domain.CourtOrder{FileNumber: p.FileNumber, EffectOfOrder: p.EffectOfOrder, OrderDetails: p.OrderDetails}
	if p.OrderDate != "" {
		d, err := parseDate(p.OrderDate)
		if err != nil {
			return nil, err
		}
		co.OrderDate = &d
	}
	return co, nil
}

// rename sets the business name and records the change in section when it differs.
func rename(meta *filer.FilingMeta, section string, b *domain.Business, name string) {
	name = strings.TrimSpace(name)
	if name == "" || name == b.LegalName {
		return
	}
	meta.Merge(section, map[string]any{"fromLegalName": b.LegalName, "toLegalName": name})
	b.LegalName = name
}
