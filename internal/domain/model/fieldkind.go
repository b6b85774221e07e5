package model

import (
	"strconv"
	"strings"
)

// FieldKind is the remote discriminant of a target field's value type.
type FieldKind int

// Wire discriminants used by the remote table service.
const (
	KindUnsupported    FieldKind = 0
	KindText           FieldKind = 1
	KindNumber         FieldKind = 2
	KindSingleSelect   FieldKind = 3
	KindMultiSelect    FieldKind = 4
	KindDate           FieldKind = 5
	KindCheckbox       FieldKind = 7
	KindPerson         FieldKind = 11
	KindGroup          FieldKind = 12
	KindPhone          FieldKind = 13
	KindURL            FieldKind = 15
	KindAttachment     FieldKind = 17
	KindSingleRelation FieldKind = 18
	KindDoubleRelation FieldKind = 19
	KindLocation       FieldKind = 22
)

var kindNames = map[FieldKind]string{
	KindUnsupported:    "Unsupported",
	KindText:           "Text",
	KindNumber:         "Number",
	KindSingleSelect:   "SingleSelect",
	KindMultiSelect:    "MultiSelect",
	KindDate:           "Date",
	KindCheckbox:       "Checkbox",
	KindPerson:         "Person",
	KindGroup:          "Group",
	KindPhone:          "Phone",
	KindURL:            "Url",
	KindAttachment:     "Attachment",
	KindSingleRelation: "SingleRelation",
	KindDoubleRelation: "DoubleRelation",
	KindLocation:       "Location",
}

// KindFromWire maps a remote discriminant to a FieldKind; unknown values are Unsupported.
func KindFromWire(v int) FieldKind {
	k := FieldKind(v)
	if _, ok := kindNames[k]; !ok {
		return KindUnsupported
	}
	return k
}

// String returns the kind name.
func (k FieldKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnsupported]
}

// ParseFieldKind accepts a wire discriminant ("5") or a case-insensitive kind name
// ("date", "multi_select", "MultiSelect").
func ParseFieldKind(s string) (FieldKind, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		k := KindFromWire(n)
		return k, k != KindUnsupported
	}
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(s))
	for k, name := range kindNames {
		if k != KindUnsupported && strings.ToLower(name) == norm {
			return k, true
		}
	}
	return KindUnsupported, false
}
