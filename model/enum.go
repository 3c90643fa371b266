package model

// EnumMember is one named value of an enumeration.
type EnumMember struct {
	Name  string `yaml:"name" json:"name"`
	Value int64  `yaml:"value" json:"value"`
}

// Enumerator is implemented by named integer types that should be exposed
// to clients as enumerations.
type Enumerator interface {
	EnumMembers() []EnumMember
}
