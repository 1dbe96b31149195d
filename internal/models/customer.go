package models

import "strings"

// RegionSet is the closed set of delivery regions a customer may choose.
type RegionSet struct {
	names []string
	index map[string]struct{}
}

// NewRegionSet builds a set from display names; blanks are skipped.
func NewRegionSet(names []string) RegionSet {
	rs := RegionSet{index: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := rs.index[n]; dup {
			continue
		}
		rs.index[n] = struct{}{}
		rs.names = append(rs.names, n)
	}
	return rs
}

// Contains reports whether region is one of the enumerated names.
func (rs RegionSet) Contains(region string) bool {
	_, ok := rs.index[strings.TrimSpace(region)]
	return ok
}

// Names returns the regions in configuration order.
func (rs RegionSet) Names() []string {
	out := make([]string, len(rs.names))
	copy(out, rs.names)
	return out
}

// Validate checks the delivery details and returns field errors keyed by
// JSON field name. A nil map means the info is acceptable.
func (c CustomerInfo) Validate(regions RegionSet) map[string]string {
	fields := map[string]string{}

	if strings.TrimSpace(c.FullName) == "" {
		fields["fullName"] = "full name is required"
	}
	if strings.TrimSpace(c.Phone) == "" {
		fields["phone"] = "phone is required"
	}
	if strings.TrimSpace(c.Address) == "" {
		fields["address"] = "address is required"
	}
	switch {
	case strings.TrimSpace(c.Region) == "":
		fields["region"] = "region is required"
	case !regions.Contains(c.Region):
		fields["region"] = "unknown region"
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Normalized returns a copy with surrounding whitespace removed.
func (c CustomerInfo) Normalized() CustomerInfo {
	return CustomerInfo{
		FullName: strings.TrimSpace(c.FullName),
		Phone:    strings.TrimSpace(c.Phone),
		Address:  strings.TrimSpace(c.Address),
		Region:   strings.TrimSpace(c.Region),
		Notes:    strings.TrimSpace(c.Notes),
	}
}
