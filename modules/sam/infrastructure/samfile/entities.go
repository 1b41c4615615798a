package samfile

import (
	"path/filepath"
	"sort"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/extract"
)

// EntityResult is one parsed entity extract. Deactivations carry DeactivationDate = file date.
type EntityResult struct {
	File          extract.FileName
	Upserts       []entity.Entity
	Deactivations []entity.Entity

	// Received counts every data row the file declares.
	Received int
	Adds     int
	Updates  int
	Deletes  int
}

// Processed is the number of rows handed to the staging engine.
func (r *EntityResult) Processed() int {
	return len(r.Upserts) + len(r.Deactivations)
}

type coded[T any] struct {
	code extract.Code
	duns string
	v    T
}

// ParseEntities parses the entity extract at path. name classifies the file and defaults to the
// base name of path.
func ParseEntities(path, name string) (*EntityResult, error) {
	file, err := classify(path, name)
	if err != nil {
		return nil, err
	}
	cols := extract.ColumnsFor(file.Version)

	var rows []coded[entity.Entity]
	received, err := readDat(path, func(_ int, r row) error {
		duns := r.cell(cols.DUNS)
		if duns == "" {
			return nil
		}
		code := extract.Code(r.cell(cols.Code))
		if !code.Known() {
			return nil
		}
		e := entityFromRow(r, cols)
		if code.IsDelete() {
			e.DeactivationDate = file.Date
		}
		rows = append(rows, coded[entity.Entity]{code: code, duns: duns, v: e})
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &EntityResult{File: file, Received: received}
	for _, c := range collapse(rows, file.Cadence) {
		switch {
		case c.code.IsDelete():
			res.Deletes++
			res.Deactivations = append(res.Deactivations, c.v)
		case c.code.IsAdd():
			res.Adds++
			res.Upserts = append(res.Upserts, c.v)
		default:
			res.Updates++
			res.Upserts = append(res.Upserts, c.v)
		}
	}
	return res, nil
}

func entityFromRow(r row, cols extract.Columns) entity.Entity {
	codes := entity.SplitBusinessTypes(r.cell(cols.BusinessTypes))
	return entity.Entity{
		DUNS:              r.cell(cols.DUNS),
		UEI:               r.cell(cols.UEI),
		LegalBusinessName: r.cell(cols.LegalBusinessName),
		DBAName:           r.cell(cols.DBAName),
		Address: entity.Address{
			Line1:                 r.cell(cols.AddressLine1),
			Line2:                 r.cell(cols.AddressLine2),
			City:                  r.cell(cols.City),
			State:                 r.cell(cols.State),
			Zip:                   r.cell(cols.Zip),
			Zip4:                  r.cell(cols.Zip4),
			CountryCode:           r.cell(cols.CountryCode),
			CongressionalDistrict: r.cell(cols.CongressionalDistrict),
		},
		EntityStructure:   r.cell(cols.EntityStructure),
		BusinessTypeCodes: codes,
		BusinessTypes:     entity.BusinessTypeNames(codes),
		ParentDUNS:        r.cell(cols.ParentDUNS),
		ParentUEI:         r.cell(cols.ParentUEI),
		ParentLegalName:   r.cell(cols.ParentLegalName),
		RegistrationDate:  extract.ParseDate(r.cell(cols.RegistrationDate)),
		ActivationDate:    extract.ParseDate(r.cell(cols.ActivationDate)),
		ExpirationDate:    extract.ParseDate(r.cell(cols.ExpirationDate)),
		LastSAMModDate:    extract.ParseDate(r.cell(cols.LastModDate)),
	}
}

// collapse stable-sorts rows by extract code, so deletes come first, and keeps one row per duns:
// the first for monthly snapshots and the last for daily deltas.
func collapse[T any](rows []coded[T], cadence extract.Cadence) []coded[T] {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].code.Less(rows[j].code) })

	keepLast := cadence == extract.Daily
	pos := make(map[string]int, len(rows))
	out := make([]coded[T], 0, len(rows))
	for _, r := range rows {
		i, dup := pos[r.duns]
		switch {
		case !dup:
			pos[r.duns] = len(out)
			out = append(out, r)
		case keepLast:
			out[i] = r
		}
	}
	return out
}

func classify(path, name string) (extract.FileName, error) {
	if name == "" {
		name = filepath.Base(path)
	}
	return extract.ParseFileName(name)
}
