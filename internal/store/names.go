package store

import "fmt"

// Name identifies one persisted document.
type Name string

// The four registry documents.
const (
	Tokens     Name = "tokens"
	Devices    Name = "devices"
	Properties Name = "properties"
	Instants   Name = "instants"
)

// Names lists every document in dependency order.
var Names = []Name{Tokens, Devices, Properties, Instants}

// fileNames maps documents to their file names in the storage directory.
// The properties document keeps its historical name.
var fileNames = map[Name]string{
	Tokens:     "tokens.json",
	Devices:    "devices.json",
	Properties: "brain.json",
	Instants:   "instants.json",
}

// Valid reports whether n is one of the registry documents.
func (n Name) Valid() bool {
	_, ok := fileNames[n]
	return ok
}

// ParseName converts a configuration string into a document Name.
func ParseName(s string) (Name, error) {
	n := Name(s)
	if !n.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDocument, s)
	}
	return n, nil
}

// ParseNames converts a list of configuration strings, failing on the first
// unknown name.
func ParseNames(values []string) ([]Name, error) {
	names := make([]Name, 0, len(values))
	for _, v := range values {
		n, err := ParseName(v)
		if err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, nil
}
