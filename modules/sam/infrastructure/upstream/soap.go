package upstream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/entity"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	samNS          = "http://www.sam.gov"
)

type getEntitiesEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	SoapNS  string   `xml:"xmlns:soapenv,attr"`
	SamNS   string   `xml:"xmlns:sam,attr"`
	Body    struct {
		Request getEntitiesRequest `xml:"sam:getEntities"`
	} `xml:"soapenv:Body"`
}

type getEntitiesRequest struct {
	Auth struct {
		UserID   string `xml:"userID"`
		Password string `xml:"password"`
	} `xml:"userAuthenticationKey"`
	Criteria struct {
		DUNSNumbers []string `xml:"DUNSList>DUNSNumber"`
	} `xml:"entitySearchCriteria"`
	RequestedData struct {
		CoreData struct {
			Value string `xml:"value"`
		} `xml:"coreData"`
	} `xml:"requestedData"`
}

func encodeGetEntities(username, password string, duns []string) ([]byte, error) {
	env := getEntitiesEnvelope{SoapNS: soapEnvelopeNS, SamNS: samNS}
	req := &env.Body.Request
	req.Auth.UserID = username
	req.Auth.Password = password
	req.Criteria.DUNSNumbers = duns
	req.RequestedData.CoreData.Value = "Y"

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Response elements are matched by local name so any namespace prefix is accepted.

type entityXML struct {
	Identification *struct {
		DUNS              string `xml:"DUNS"`
		LegalBusinessName string `xml:"legalBusinessName"`
		DBAName           string `xml:"DBAName"`
	} `xml:"entityIdentification"`
	CoreData *coreDataXML `xml:"coreData"`
}

type coreDataXML struct {
	DUNSInformation *struct {
		GlobalParent *struct {
			DUNSNumber        string `xml:"DUNSNumber"`
			LegalBusinessName string `xml:"legalBusinessName"`
		} `xml:"globalParentDUNS"`
	} `xml:"DUNSInformation"`
	BusinessInformation *struct {
		PhysicalAddress *struct {
			Street1               string `xml:"street1"`
			Street2               string `xml:"street2"`
			City                  string `xml:"city"`
			State                 string `xml:"stateOrProvince"`
			Zip                   string `xml:"ZIPCode"`
			Zip4                  string `xml:"ZIPCodePlus4"`
			CountryCode           string `xml:"countryCode"`
			CongressionalDistrict string `xml:"congressionalDistrict"`
		} `xml:"physicalAddress"`
	} `xml:"businessInformation"`
	GeneralInformation *struct {
		BusinessTypes *struct {
			Types []struct {
				Code string `xml:"code"`
			} `xml:"businessType"`
		} `xml:"listOfBusinessTypes"`
	} `xml:"generalInformation"`
	ExecutiveCompensation *struct {
		Details []struct {
			Name         string `xml:"name"`
			Compensation string `xml:"compensation"`
		} `xml:"executiveCompensationDetail"`
	} `xml:"listOfExecutiveCompensationInformation"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

// errSOAPFault marks a well-formed fault response. It is retried like any transport failure.
var errSOAPFault = errors.New("soap fault")

// decodeEntities walks the response and decodes every <entity> element.
func decodeEntities(body []byte) ([]entity.Entity, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var out []entity.Entity
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode lookup response: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "Fault":
			var f soapFault
			if err := dec.DecodeElement(&f, &start); err != nil {
				return nil, fmt.Errorf("decode soap fault: %w", err)
			}
			return nil, fmt.Errorf("%w: %s: %s", errSOAPFault, f.Code, f.String)
		case "entity":
			var e entityXML
			if err := dec.DecodeElement(&e, &start); err != nil {
				return nil, fmt.Errorf("decode entity: %w", err)
			}
			out = append(out, e.toEntity())
		}
	}
}

func (x entityXML) toEntity() entity.Entity {
	var e entity.Entity
	if id := x.Identification; id != nil {
		e.DUNS = strings.TrimSpace(id.DUNS)
		e.LegalBusinessName = strings.TrimSpace(id.LegalBusinessName)
		e.DBAName = strings.TrimSpace(id.DBAName)
	}
	core := x.CoreData
	if core == nil {
		return e
	}
	if info := core.DUNSInformation; info != nil && info.GlobalParent != nil {
		e.ParentDUNS = strings.TrimSpace(info.GlobalParent.DUNSNumber)
		e.ParentLegalName = strings.TrimSpace(info.GlobalParent.LegalBusinessName)
	}
	if bi := core.BusinessInformation; bi != nil && bi.PhysicalAddress != nil {
		a := bi.PhysicalAddress
		e.Address = entity.Address{
			Line1:                 strings.TrimSpace(a.Street1),
			Line2:                 strings.TrimSpace(a.Street2),
			City:                  strings.TrimSpace(a.City),
			State:                 strings.TrimSpace(a.State),
			Zip:                   strings.TrimSpace(a.Zip),
			Zip4:                  strings.TrimSpace(a.Zip4),
			CountryCode:           strings.TrimSpace(a.CountryCode),
			CongressionalDistrict: strings.TrimSpace(a.CongressionalDistrict),
		}
	}
	if gi := core.GeneralInformation; gi != nil && gi.BusinessTypes != nil {
		for _, bt := range gi.BusinessTypes.Types {
			if code := strings.TrimSpace(bt.Code); code != "" {
				e.BusinessTypeCodes = append(e.BusinessTypeCodes, code)
			}
		}
		e.BusinessTypes = entity.BusinessTypeNames(e.BusinessTypeCodes)
	}
	if ec := core.ExecutiveCompensation; ec != nil {
		for i, d := range ec.Details {
			if i >= entity.OfficerSlots {
				break
			}
			e.Officers[i].Name = strings.TrimSpace(d.Name)
			if amount, err := decimal.NewFromString(strings.TrimSpace(d.Compensation)); err == nil {
				e.Officers[i].Amount = decimal.NewNullDecimal(amount)
			}
		}
	}
	return e
}
