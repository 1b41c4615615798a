package extract

// Columns locates fields in one pipe-delimited row. A negative index means the layout has no such
// column and the field is always null.
type Columns struct {
	UEI                   int
	DUNS                  int
	Code                  int
	RegistrationDate      int
	ExpirationDate        int
	LastModDate           int
	ActivationDate        int
	LegalBusinessName     int
	DBAName               int
	AddressLine1          int
	AddressLine2          int
	City                  int
	State                 int
	Zip                   int
	Zip4                  int
	CountryCode           int
	CongressionalDistrict int
	EntityStructure       int
	BusinessTypes         int
	ExecComp              int
	ParentLegalName       int
	ParentUEI             int
	ParentDUNS            int
}

var v1Columns = Columns{
	UEI:                   -1,
	DUNS:                  0,
	Code:                  4,
	RegistrationDate:      6,
	ExpirationDate:        7,
	LastModDate:           8,
	ActivationDate:        9,
	LegalBusinessName:     10,
	DBAName:               11,
	AddressLine1:          14,
	AddressLine2:          15,
	City:                  16,
	State:                 17,
	Zip:                   18,
	Zip4:                  19,
	CountryCode:           20,
	CongressionalDistrict: 21,
	EntityStructure:       29,
	BusinessTypes:         33,
	ExecComp:              89,
	ParentLegalName:       199,
	ParentUEI:             -1,
	ParentDUNS:            201,
}

// v2 prepends the UEI column, shifting every V1 position right by one.
var v2Columns = shifted(v1Columns, 1, 0, 201)

func shifted(c Columns, by, uei, parentUEI int) Columns {
	s := func(i int) int {
		if i < 0 {
			return i
		}
		return i + by
	}
	return Columns{
		UEI:                   uei,
		DUNS:                  s(c.DUNS),
		Code:                  s(c.Code),
		RegistrationDate:      s(c.RegistrationDate),
		ExpirationDate:        s(c.ExpirationDate),
		LastModDate:           s(c.LastModDate),
		ActivationDate:        s(c.ActivationDate),
		LegalBusinessName:     s(c.LegalBusinessName),
		DBAName:               s(c.DBAName),
		AddressLine1:          s(c.AddressLine1),
		AddressLine2:          s(c.AddressLine2),
		City:                  s(c.City),
		State:                 s(c.State),
		Zip:                   s(c.Zip),
		Zip4:                  s(c.Zip4),
		CountryCode:           s(c.CountryCode),
		CongressionalDistrict: s(c.CongressionalDistrict),
		EntityStructure:       s(c.EntityStructure),
		BusinessTypes:         s(c.BusinessTypes),
		ExecComp:              s(c.ExecComp),
		ParentLegalName:       s(c.ParentLegalName),
		ParentUEI:             parentUEI,
		ParentDUNS:            s(c.ParentDUNS),
	}
}

// ColumnsFor returns the layout of version v.
func ColumnsFor(v Version) Columns {
	if v == V2 {
		return v2Columns
	}
	return v1Columns
}
