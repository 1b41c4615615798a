// Package entity holds the typed view of registry rows shared by the parser, the transports and the
// staging engine. Empty strings and zero times stand for NULL.
package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfficerSlots is the number of executive-compensation pairs carried per entity.
const OfficerSlots = 5

type Address struct {
	Line1                 string
	Line2                 string
	City                  string
	State                 string
	Zip                   string
	Zip4                  string
	CountryCode           string
	CongressionalDistrict string
}

type Officer struct {
	Name   string
	Amount decimal.NullDecimal
}

// Empty reports whether the slot carries neither a name nor an amount.
func (o Officer) Empty() bool {
	return o.Name == "" && !o.Amount.Valid
}

// Entity is one registered business keyed by DUNS.
type Entity struct {
	DUNS              string
	UEI               string
	LegalBusinessName string
	DBAName           string
	Address           Address
	EntityStructure   string
	BusinessTypeCodes []string
	BusinessTypes     []string

	ParentDUNS      string
	ParentUEI       string
	ParentLegalName string

	Officers [OfficerSlots]Officer

	RegistrationDate time.Time
	ActivationDate   time.Time
	ExpirationDate   time.Time
	DeactivationDate time.Time
	LastSAMModDate   time.Time
}

// HasOfficers reports whether any executive-compensation slot is filled.
func (e Entity) HasOfficers() bool {
	for _, o := range e.Officers {
		if !o.Empty() {
			return true
		}
	}
	return false
}

// ExecComp is the executive-compensation projection of one extract row.
type ExecComp struct {
	DUNS                string
	Officers            [OfficerSlots]Officer
	LastExecCompModDate time.Time
}

// HistoricParent records the parent of an entity as observed in the end-of-year snapshot of Year.
type HistoricParent struct {
	DUNS              string
	UEI               string
	Year              int
	LegalBusinessName string
	ParentDUNS        string
	ParentUEI         string
	ParentLegalName   string
}

// ParentName is one (parent duns, parent legal name) observation used by the backfill.
type ParentName struct {
	ParentDUNS string
	Name       string
}
