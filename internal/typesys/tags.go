package typesys

import "strings"

// riaTag is the parsed form of a `ria:"..."` struct tag, for example
//
//	ria:"key"
//	ria:"association=Category_Products,this=CategoryID,other=ID,fk"
type riaTag struct {
	key         bool
	virtual     bool
	readOnly    bool
	concurrency bool
	exclude     bool
	association *Association
}

func parseTag(s string) riaTag {
	var tag riaTag
	if s == "" {
		return tag
	}
	if s == "-" {
		tag.exclude = true
		return tag
	}
	assoc := &Association{}
	hasAssoc := false
	for _, item := range strings.Split(s, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(item), "=")
		switch name {
		case "key":
			tag.key = true
		case "virtual":
			tag.virtual = true
		case "readonly":
			tag.readOnly = true
		case "concurrency":
			tag.concurrency = true
		case "exclude":
			tag.exclude = true
		case "association":
			hasAssoc = true
			assoc.Name = value
		case "this":
			assoc.ThisKey = splitKeys(value)
		case "other":
			assoc.OtherKey = splitKeys(value)
		case "fk":
			assoc.IsForeignKey = true
		case "composition":
			hasAssoc = true
			assoc.IsComposition = true
		}
	}
	if hasAssoc {
		tag.association = assoc
	}
	return tag
}

func splitKeys(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, "|")
}
