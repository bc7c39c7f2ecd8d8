package entities

// Header holds the HEADER section of an exchange file
type Header struct {
	// FILE_DESCRIPTION
	Description         []string
	ImplementationLevel string

	// FILE_NAME
	FileName            string
	TimeStamp           string
	Author              []string
	Organization        []string
	PreprocessorVersion string
	OriginatingSystem   string
	Authorization       string

	// FILE_SCHEMA
	Schemas []string

	// Entries keeps every header entity as written, including the three above
	Entries []Group
}

// Entry returns the header entity with the given type name
func (h *Header) Entry(typeName string) *Group {
	for i := range h.Entries {
		if h.Entries[i].TypeName == typeName {
			return &h.Entries[i]
		}
	}
	return nil
}

// Schema returns the first schema identifier, or "" when none is declared
func (h *Header) Schema() string {
	if len(h.Schemas) == 0 {
		return ""
	}
	return h.Schemas[0]
}
