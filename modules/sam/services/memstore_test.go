package services

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
	"github.com/iota-uz/sam-ingest/modules/sam/infrastructure/persistence"
)

type storedEntity struct {
	entity.Entity
	ExecCompModDate time.Time
	Historic        bool
	UpdatedAt       time.Time
}

// memStore mirrors the staged SQL of persistence.Stager over maps. Every write advances a fake
// clock by one second so updated_at filters behave as in Postgres.
type memStore struct {
	entities map[string]storedEntity
	parents  map[string]entity.HistoricParent
	clock    time.Time

	failUpserts error
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		entities: map[string]storedEntity{},
		parents:  map[string]entity.HistoricParent{},
		clock:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) seed(e entity.Entity, historic bool) {
	m.entities[e.DUNS] = storedEntity{Entity: e, Historic: historic, UpdatedAt: m.tick()}
}

func (m *memStore) get(duns string) (storedEntity, bool) {
	e, ok := m.entities[duns]
	return e, ok
}

func notOlder(stored, incoming time.Time) bool {
	return stored.IsZero() || incoming.IsZero() || !stored.After(incoming)
}

func sorted(keys []string) []string {
	sort.Strings(keys)
	return keys
}

func (m *memStore) ApplyUpserts(_ context.Context, rows []entity.Entity) (persistence.Changes, error) {
	var ch persistence.Changes
	if m.failUpserts != nil {
		return ch, m.failUpserts
	}
	for _, e := range rows {
		e.DeactivationDate = time.Time{}
		d, ok := m.entities[e.DUNS]
		if !ok {
			e.Officers = [entity.OfficerSlots]entity.Officer{}
			m.entities[e.DUNS] = storedEntity{Entity: e, UpdatedAt: m.tick()}
			ch.Added = append(ch.Added, e.DUNS)
			continue
		}
		if !notOlder(d.LastSAMModDate, e.LastSAMModDate) {
			continue
		}
		next := e
		next.Officers = d.Officers
		if next.LastSAMModDate.IsZero() {
			next.LastSAMModDate = d.LastSAMModDate
		}
		if reflect.DeepEqual(next, d.Entity) && !d.Historic {
			continue
		}
		d.Entity, d.Historic, d.UpdatedAt = next, false, m.tick()
		m.entities[e.DUNS] = d
		ch.Updated = append(ch.Updated, e.DUNS)
	}
	ch.Added, ch.Updated = sorted(ch.Added), sorted(ch.Updated)
	return ch, nil
}

func (m *memStore) ApplyDeactivations(_ context.Context, rows []entity.Entity) (persistence.Changes, error) {
	var ch persistence.Changes
	for _, e := range rows {
		d, ok := m.entities[e.DUNS]
		if !ok {
			m.entities[e.DUNS] = storedEntity{Entity: e, UpdatedAt: m.tick()}
			ch.Added = append(ch.Added, e.DUNS)
			continue
		}
		if !notOlder(d.LastSAMModDate, e.LastSAMModDate) {
			continue
		}
		if d.DeactivationDate.Equal(e.DeactivationDate) && !d.Historic {
			continue
		}
		d.DeactivationDate, d.Historic, d.UpdatedAt = e.DeactivationDate, false, m.tick()
		m.entities[e.DUNS] = d
		ch.Updated = append(ch.Updated, e.DUNS)
	}
	ch.Added, ch.Updated = sorted(ch.Added), sorted(ch.Updated)
	return ch, nil
}

func (m *memStore) ApplyExecComp(_ context.Context, rows []entity.ExecComp) (persistence.Changes, error) {
	var ch persistence.Changes
	for _, r := range rows {
		d, ok := m.entities[r.DUNS]
		if !ok {
			continue
		}
		if !d.ExecCompModDate.IsZero() && d.ExecCompModDate.After(r.LastExecCompModDate) {
			continue
		}
		if reflect.DeepEqual(d.Officers, r.Officers) && d.ExecCompModDate.Equal(r.LastExecCompModDate) {
			continue
		}
		d.Officers, d.ExecCompModDate, d.UpdatedAt = r.Officers, r.LastExecCompModDate, m.tick()
		m.entities[r.DUNS] = d
		ch.Updated = append(ch.Updated, r.DUNS)
	}
	ch.Updated = sorted(ch.Updated)
	return ch, nil
}

func coalesce(incoming, stored string) string {
	if incoming != "" {
		return incoming
	}
	return stored
}

func (m *memStore) ApplyDecorations(_ context.Context, rows []entity.Entity) (persistence.Changes, error) {
	var ch persistence.Changes
	for _, e := range rows {
		d, ok := m.entities[e.DUNS]
		if !ok {
			continue
		}
		next := d
		next.LegalBusinessName = coalesce(e.LegalBusinessName, d.LegalBusinessName)
		next.DBAName = coalesce(e.DBAName, d.DBAName)
		next.Address.Line1 = coalesce(e.Address.Line1, d.Address.Line1)
		next.Address.Line2 = coalesce(e.Address.Line2, d.Address.Line2)
		next.Address.City = coalesce(e.Address.City, d.Address.City)
		next.Address.State = coalesce(e.Address.State, d.Address.State)
		next.Address.Zip = coalesce(e.Address.Zip, d.Address.Zip)
		next.Address.Zip4 = coalesce(e.Address.Zip4, d.Address.Zip4)
		next.Address.CountryCode = coalesce(e.Address.CountryCode, d.Address.CountryCode)
		next.Address.CongressionalDistrict = coalesce(e.Address.CongressionalDistrict, d.Address.CongressionalDistrict)
		next.ParentDUNS = coalesce(e.ParentDUNS, d.ParentDUNS)
		next.ParentLegalName = coalesce(e.ParentLegalName, d.ParentLegalName)
		if e.BusinessTypeCodes != nil {
			next.BusinessTypeCodes = e.BusinessTypeCodes
		}
		if e.BusinessTypes != nil {
			next.BusinessTypes = e.BusinessTypes
		}
		for i, o := range e.Officers {
			next.Officers[i].Name = coalesce(o.Name, d.Officers[i].Name)
			if o.Amount.Valid {
				next.Officers[i].Amount = o.Amount
			}
		}
		if reflect.DeepEqual(next.Entity, d.Entity) {
			continue
		}
		next.UpdatedAt = m.tick()
		m.entities[e.DUNS] = next
		ch.Updated = append(ch.Updated, e.DUNS)
	}
	ch.Updated = sorted(ch.Updated)
	return ch, nil
}

func parentKey(duns string, year int) string {
	return fmt.Sprintf("%s:%d", duns, year)
}

func (m *memStore) ApplyHistoricParents(_ context.Context, rows []entity.HistoricParent) (persistence.Changes, error) {
	var ch persistence.Changes
	for _, p := range rows {
		k := parentKey(p.DUNS, p.Year)
		stored, ok := m.parents[k]
		switch {
		case !ok:
			ch.Added = append(ch.Added, k)
		case stored != p:
			ch.Updated = append(ch.Updated, k)
		default:
			continue
		}
		m.parents[k] = p
	}
	ch.Added, ch.Updated = sorted(ch.Added), sorted(ch.Updated)
	return ch, nil
}

func (m *memStore) maxDate(pick func(storedEntity) time.Time) (time.Time, bool, error) {
	var best time.Time
	for _, e := range m.entities {
		if t := pick(e); t.After(best) {
			best = t
		}
	}
	return best, !best.IsZero(), nil
}

func (m *memStore) MaxLastSAMModDate(context.Context) (time.Time, bool, error) {
	return m.maxDate(func(e storedEntity) time.Time { return e.LastSAMModDate })
}

func (m *memStore) MaxExecCompModDate(context.Context) (time.Time, bool, error) {
	return m.maxDate(func(e storedEntity) time.Time { return e.ExecCompModDate })
}

func (m *memStore) Now(context.Context) (time.Time, error) {
	return m.tick(), nil
}

func (m *memStore) ParentNames(context.Context) ([]entity.ParentName, error) {
	seen := map[entity.ParentName]struct{}{}
	var out []entity.ParentName
	for _, duns := range m.sortedDUNS() {
		e := m.entities[duns]
		p := entity.ParentName{ParentDUNS: e.ParentDUNS, Name: e.ParentLegalName}
		if p.ParentDUNS == "" || p.Name == "" {
			continue
		}
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) MissingParentNames(_ context.Context, since time.Time, after string, limit int) ([]persistence.MissingParent, error) {
	var out []persistence.MissingParent
	for _, duns := range m.sortedDUNS() {
		e := m.entities[duns]
		if duns <= after || e.ParentDUNS == "" || e.ParentLegalName != "" {
			continue
		}
		if !since.IsZero() && e.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, persistence.MissingParent{DUNS: duns, ParentDUNS: e.ParentDUNS})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) SetParentNames(_ context.Context, duns, names []string) (int64, error) {
	var n int64
	for i, d := range duns {
		e, ok := m.entities[d]
		if !ok || e.ParentLegalName != "" {
			continue
		}
		e.ParentLegalName, e.UpdatedAt = names[i], m.tick()
		m.entities[d] = e
		n++
	}
	return n, nil
}

func (m *memStore) HistoricDUNS(_ context.Context, offset, limit int) ([]string, error) {
	var all []string
	for _, duns := range m.sortedDUNS() {
		if m.entities[duns].Historic {
			all = append(all, duns)
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (m *memStore) sortedDUNS() []string {
	keys := make([]string, 0, len(m.entities))
	for k := range m.entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// snapshot renders the entity table for equality checks.
func (m *memStore) snapshot() string {
	var b strings.Builder
	for _, duns := range m.sortedDUNS() {
		fmt.Fprintf(&b, "%+v\n", m.entities[duns])
	}
	return b.String()
}
