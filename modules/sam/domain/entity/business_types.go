package entity

import "strings"

// businessTypeNames maps SAM business-type codes to their display names.
var businessTypeNames = map[string]string{
	"12": "U.S. Local Government",
	"1D": "Small Agricultural Cooperative",
	"1R": "Private University or College",
	"20": "Foreign Owned",
	"23": "Minority Owned Business",
	"27": "Self Certified Small Disadvantaged Business",
	"28": "Federal Agency",
	"2F": "U.S. State Government",
	"2J": "Sole Proprietorship",
	"2K": "Partnership or Limited Liability Partnership",
	"2L": "Corporate Entity (Not Tax Exempt)",
	"2R": "U.S. Federal Government",
	"2U": "Other Not For Profit Organization",
	"2X": "For Profit Organization",
	"3I": "Tribal Government",
	"8C": "Joint Venture Women Owned Small Business",
	"8D": "Economically Disadvantaged Joint Venture Women Owned Small Business",
	"8E": "Economically Disadvantaged Women Owned Small Business",
	"8W": "Woman Owned Small Business",
	"A2": "Woman Owned Business",
	"A3": "Labor Surplus Area Firm",
	"A5": "Veteran Owned Business",
	"A6": "SBA Certified 8(a) Program Participant",
	"A7": "AbilityOne Non Profit Agency",
	"A8": "Non-Profit Organization",
	"A9": "Service Disabled Veteran Owned Business Joint Venture",
	"CY": "Foreign Government",
	"FR": "Asian-Pacific American Owned",
	"GW": "Hispanic American Owned",
	"HK": "Community Developed Corporation Owned Firm",
	"JT": "Joint Venture Economically Disadvantaged Women Owned Small Business",
	"LJ": "Limited Liability Company",
	"MF": "Manufacturer of Goods",
	"NB": "Native American Owned",
	"OY": "Black American Owned",
	"PI": "Hispanic Servicing Institution",
	"QF": "Service Disabled Veteran Owned Business",
	"QZ": "Subcontinent Asian (Asian-Indian) American Owned",
	"XS": "Subchapter S Corporation",
	"XX": "SBA Certified HUBZone Firm",
}

// BusinessTypeName returns the display name of code and whether the code is known.
func BusinessTypeName(code string) (string, bool) {
	name, ok := businessTypeNames[strings.ToUpper(strings.TrimSpace(code))]
	return name, ok
}

// BusinessTypeNames expands codes into their display names, skipping unknown codes. It returns nil
// when no code is known.
func BusinessTypeNames(codes []string) []string {
	var names []string
	for _, c := range codes {
		if name, ok := BusinessTypeName(c); ok {
			names = append(names, name)
		}
	}
	return names
}

// SplitBusinessTypes splits a "~"-separated code list into trimmed, non-empty, de-duplicated tokens
// in first-seen order.
func SplitBusinessTypes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range strings.Split(raw, "~") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
