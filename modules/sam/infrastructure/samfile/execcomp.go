package samfile

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
	"github.com/iota-uz/sam-ingest/modules/sam/domain/extract"
)

// placeholderOfficers are name or title values that mean "no officer reported".
var placeholderOfficers = map[string]struct{}{
	"x":       {},
	"n/a":     {},
	"na":      {},
	"null":    {},
	"none":    {},
	". . .":   {},
	"no one":  {},
	"no  one": {},
}

type ExecCompResult struct {
	File     extract.FileName
	Rows     []entity.ExecComp
	Received int
}

// ParseExecComp parses the executive-compensation column of the extract at path. Only add and
// update rows are kept; every row is stamped with the file date.
func ParseExecComp(path, name string) (*ExecCompResult, error) {
	file, err := classify(path, name)
	if err != nil {
		return nil, err
	}
	cols := extract.ColumnsFor(file.Version)

	var rows []coded[entity.ExecComp]
	received, err := readDat(path, func(_ int, r row) error {
		duns := r.cell(cols.DUNS)
		if duns == "" {
			return nil
		}
		code := extract.Code(r.cell(cols.Code))
		if !code.IsAdd() && !code.IsUpdate() {
			return nil
		}
		rows = append(rows, coded[entity.ExecComp]{
			code: code,
			duns: duns,
			v: entity.ExecComp{
				DUNS:                duns,
				Officers:            ParseExecCompString(r.cell(cols.ExecComp)),
				LastExecCompModDate: file.Date,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &ExecCompResult{File: file, Received: received}
	for _, c := range collapse(rows, file.Cadence) {
		res.Rows = append(res.Rows, c.v)
	}
	return res, nil
}

// ParseExecCompString decodes "name^title^amount~..." into positional officer slots. Entries that
// do not have exactly three fields, or whose name or title is a placeholder, leave their slot empty.
// An amount that is not a number leaves the amount null.
func ParseExecCompString(s string) [entity.OfficerSlots]entity.Officer {
	var out [entity.OfficerSlots]entity.Officer
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for i, item := range strings.Split(s, "~") {
		if i >= entity.OfficerSlots {
			break
		}
		parts := strings.Split(item, "^")
		if len(parts) != 3 {
			continue
		}
		name, title := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if isPlaceholder(name) || isPlaceholder(title) {
			continue
		}
		out[i].Name = name
		if amount, err := decimal.NewFromString(strings.TrimSpace(parts[2])); err == nil {
			out[i].Amount = decimal.NewNullDecimal(amount)
		}
	}
	return out
}

func isPlaceholder(v string) bool {
	_, ok := placeholderOfficers[strings.ToLower(v)]
	return ok
}
