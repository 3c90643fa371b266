package typesys

import "strings"

// splitFullName splits "ns.Name" at the last dot outside brackets. Import
// paths may themselves contain dots, so only the final segment is the name.
func splitFullName(full string) (ns, name string) {
	depth := 0
	for i := len(full) - 1; i >= 0; i-- {
		switch full[i] {
		case ']':
			depth++
		case '[':
			depth--
		case '.':
			if depth == 0 {
				return full[:i], full[i+1:]
			}
		}
	}
	return "", full
}

// splitGenericName splits a reflect generic instantiation name such as
// "Page[example.com/shop.Product,int]" into "Page" and its argument names.
func splitGenericName(name string) (string, []string, bool) {
	open := strings.IndexByte(name, '[')
	if open <= 0 || !strings.HasSuffix(name, "]") {
		return name, nil, false
	}
	return name[:open], splitTopLevel(name[open+1:len(name)-1], ','), true
}

// ParseFullName decomposes a structural full name into its element or
// generic arguments. It returns the base name and the argument names, with
// isArray set for "Elem[]". A plain name has no arguments.
func ParseFullName(full string) (base string, args []string, isArray bool) {
	if strings.HasSuffix(full, "[]") {
		return strings.TrimSuffix(full, "[]"), nil, true
	}
	if !strings.HasSuffix(full, "]]") {
		return full, nil, false
	}
	depth := 0
	for i := len(full) - 1; i >= 0; i-- {
		switch full[i] {
		case ']':
			depth++
		case '[':
			depth--
			if depth == 0 {
				base = full[:i]
				for _, a := range splitTopLevel(full[i+1:len(full)-1], ',') {
					args = append(args, strings.TrimSuffix(strings.TrimPrefix(a, "["), "]"))
				}
				return base, args, false
			}
		}
	}
	return full, nil, false
}

func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}
