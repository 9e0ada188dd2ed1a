package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"entityfiler/pkg/domain"
)

// businessRow strips the collections so the business image only carries its
// own scalar attributes.
func businessRow(b Business) Business {
	b.Offices = nil
	b.PartyRoles = nil
	b.ShareClasses = nil
	b.Aliases = nil
	b.Documents = nil
	b.Resolutions = nil
	return b
}

func sameJSON(a, b any) (bool, error) {
	left, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(left, right), nil
}

func newVersion(entity domain.EntityType, id, businessID, txID int64, action domain.Action, row any) (Version, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return Version{}, fmt.Errorf("encode %s %d: %w", entity, id, err)
	}
	return Version{Entity: entity, EntityID: id, BusinessID: businessID, TransactionID: txID, Action: action, Data: data}, nil
}

// diffRows compares two generations of a child collection, stamps txID on
// created and updated rows of after, and returns their version images.
func diffRows[T any](entity domain.EntityType, businessID, txID int64, before, after []T, idOf func(*T) int64, stamp func(*T, int64)) ([]Version, error) {
	previous := make(map[int64]T, len(before))
	for i := range before {
		previous[idOf(&before[i])] = before[i]
	}
	seen := make(map[int64]struct{}, len(after))
	var out []Version
	for i := range after {
		row := &after[i]
		id := idOf(row)
		seen[id] = struct{}{}
		old, existed := previous[id]
		action := domain.ActionCreate
		if existed {
			a, b := old, *row
			stamp(&a, 0)
			stamp(&b, 0)
			same, err := sameJSON(a, b)
			if err != nil {
				return nil, err
			}
			if same {
				continue
			}
			action = domain.ActionUpdate
		}
		stamp(row, txID)
		v, err := newVersion(entity, id, businessID, txID, action, *row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	removed := make([]int64, 0)
	for id := range previous {
		if _, ok := seen[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	for _, id := range removed {
		v, err := newVersion(entity, id, businessID, txID, domain.ActionDelete, previous[id])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func diffBusiness(before Business, existed bool, after *Business, txID int64) ([]Version, error) {
	var out []Version
	rowChanged := !existed
	if existed {
		a, b := businessRow(before), businessRow(*after)
		a.TransactionID, b.TransactionID = 0, 0
		same, err := sameJSON(a, b)
		if err != nil {
			return nil, err
		}
		rowChanged = !same
	}
	id := after.ID
	collect := func(vs []Version, err error) error {
		if err != nil {
			return err
		}
		out = append(out, vs...)
		return nil
	}
	if err := collect(diffRows(domain.EntityOffice, id, txID, before.Offices, after.Offices,
		func(o *domain.Office) int64 { return o.ID }, func(o *domain.Office, t int64) { o.TransactionID = t })); err != nil {
		return nil, err
	}
	if err := collect(diffRows(domain.EntityPartyRole, id, txID, before.PartyRoles, after.PartyRoles,
		func(r *domain.PartyRole) int64 { return r.ID }, func(r *domain.PartyRole, t int64) { r.TransactionID = t })); err != nil {
		return nil, err
	}
	if err := collect(diffRows(domain.EntityShareClass, id, txID, before.ShareClasses, after.ShareClasses,
		func(c *domain.ShareClass) int64 { return c.ID }, func(c *domain.ShareClass, t int64) { c.TransactionID = t })); err != nil {
		return nil, err
	}
	if err := collect(diffRows(domain.EntityAlias, id, txID, before.Aliases, after.Aliases,
		func(a *domain.Alias) int64 { return a.ID }, func(a *domain.Alias, t int64) { a.TransactionID = t })); err != nil {
		return nil, err
	}
	if err := collect(diffRows(domain.EntityDocument, id, txID, before.Documents, after.Documents,
		func(d *domain.Document) int64 { return d.ID }, func(d *domain.Document, t int64) { d.TransactionID = t })); err != nil {
		return nil, err
	}
	if err := collect(diffRows(domain.EntityResolution, id, txID, before.Resolutions, after.Resolutions,
		func(r *domain.Resolution) int64 { return r.ID }, func(r *domain.Resolution, t int64) { r.TransactionID = t })); err != nil {
		return nil, err
	}
	if !rowChanged && len(out) == 0 {
		return nil, nil
	}
	// The business row is stamped whenever anything in the aggregate changed,
	// so its transaction id always names the latest revision.
	after.TransactionID = txID
	action := domain.ActionUpdate
	if !existed {
		action = domain.ActionCreate
	}
	row, err := newVersion(domain.EntityBusiness, id, id, txID, action, businessRow(*after))
	if err != nil {
		return nil, err
	}
	return append([]Version{row}, out...), nil
}

func diffFiling(before Filing, existed bool, after *Filing, txID int64) (Version, bool, error) {
	action := domain.ActionCreate
	if existed {
		a, b := cloneFiling(before), cloneFiling(*after)
		a.TransactionID, b.TransactionID = 0, 0
		same, err := sameJSON(a, b)
		if err != nil {
			return Version{}, false, err
		}
		if same {
			return Version{}, false, nil
		}
		action = domain.ActionUpdate
	}
	after.TransactionID = txID
	var businessID int64
	if after.BusinessID != nil {
		businessID = *after.BusinessID
	}
	v, err := newVersion(domain.EntityFiling, after.ID, businessID, txID, action, *after)
	return v, err == nil, err
}

type rowKey struct {
	entity domain.EntityType
	id     int64
}

// businessAsOf replays the version log up to transactionID. Versions are
// appended in commit order, so the last image seen for a row wins.
func businessAsOf(versions []Version, id, transactionID int64) (Business, bool) {
	var (
		head  *Version
		child = make(map[rowKey]Version)
	)
	for i := range versions {
		v := versions[i]
		if v.TransactionID > transactionID || v.BusinessID != id {
			continue
		}
		switch v.Entity {
		case domain.EntityBusiness:
			if v.EntityID == id {
				head = &versions[i]
			}
		case domain.EntityFiling:
		default:
			child[rowKey{v.Entity, v.EntityID}] = v
		}
	}
	if head == nil || head.Action == domain.ActionDelete {
		return Business{}, false
	}
	var b Business
	if err := json.Unmarshal(head.Data, &b); err != nil {
		return Business{}, false
	}
	keys := make([]rowKey, 0, len(child))
	for k := range child {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entity != keys[j].entity {
			return keys[i].entity < keys[j].entity
		}
		return keys[i].id < keys[j].id
	})
	for _, k := range keys {
		v := child[k]
		if v.Action == domain.ActionDelete {
			continue
		}
		if err := appendRow(&b, v); err != nil {
			return Business{}, false
		}
	}
	return b, true
}

func appendRow(b *Business, v Version) error {
	switch v.Entity {
	case domain.EntityOffice:
		var row domain.Office
		if err := json.Unmarshal(v.Data, &row); err != nil {
			return err
		}
		b.Offices = append(b.Offices, row)
	case domain.EntityPartyRole:
		var row domain.PartyRole
		if err := json.Unmarshal(v.Data, &row); err != nil {
			return err
		}
		b.PartyRoles = append(b.PartyRoles, row)
	case domain.EntityShareClass:
		var row domain.ShareClass
		if err := json.Unmarshal(v.Data, &row); err != nil {
			return err
		}
		b.ShareClasses = append(b.ShareClasses, row)
	case domain.EntityAlias:
		var row domain.Alias
		if err := json.Unmarshal(v.Data, &row); err != nil {
			return err
		}
		b.Aliases = append(b.Aliases, row)
	case domain.EntityDocument:
		var row domain.Document
		if err := json.Unmarshal(v.Data, &row); err != nil {
			return err
		}
		b.Documents = append(b.Documents, row)
	case domain.EntityResolution:
		var row domain.Resolution
		if err := json.Unmarshal(v.Data, &row); err != nil {
			return err
		}
		b.Resolutions = append(b.Resolutions, row)
	default:
		return fmt.Errorf("unknown versioned row %s", v.Entity)
	}
	return nil
}

func filingAsOf(versions []Version, id, transactionID int64) (Filing, bool) {
	var head *Version
	for i := range versions {
		v := &versions[i]
		if v.Entity == domain.EntityFiling && v.EntityID == id && v.TransactionID <= transactionID {
			head = v
		}
	}
	if head == nil || head.Action == domain.ActionDelete {
		return Filing{}, false
	}
	var f Filing
	if err := json.Unmarshal(head.Data, &f); err != nil {
		return Filing{}, false
	}
	return f, true
}
