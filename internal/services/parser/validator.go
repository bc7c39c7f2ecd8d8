package parser

import (
	"fmt"
	"strings"

	"github.com/asakaida/stepscope/internal/entities"
)

// mandatoryHeaderEntities must each appear exactly once in the HEADER section
var mandatoryHeaderEntities = []string{"FILE_DESCRIPTION", "FILE_NAME", "FILE_SCHEMA"}

// Validator checks the structural form of a parsed file. Its findings are
// warnings: schema conformance is not checked.
type Validator struct {
	file   *FileAST
	errors []string
}

// NewValidator creates a new Validator
func NewValidator(file *FileAST) *Validator {
	return &Validator{
		file:   file,
		errors: []string{},
	}
}

// Validate validates the file and returns error if invalid
func (v *Validator) Validate() error {
	v.validateHeader()
	v.validateTypeNames()
	v.validateComplexInstances()

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors:\n%s", strings.Join(v.errors, "\n"))
	}
	return nil
}

// Findings returns the individual findings of the last Validate call
func (v *Validator) Findings() []string {
	return v.errors
}

// validateHeader checks that the mandatory header entities are present once
func (v *Validator) validateHeader() {
	counts := make(map[string]int)
	for _, group := range v.file.Header {
		counts[group.TypeName]++
	}
	for _, name := range mandatoryHeaderEntities {
		switch counts[name] {
		case 0:
			v.errors = append(v.errors, fmt.Sprintf("header: missing %s", name))
		case 1:
		default:
			v.errors = append(v.errors, fmt.Sprintf("header: %s appears %d times", name, counts[name]))
		}
	}

	for _, group := range v.file.Header {
		if group.TypeName != "FILE_SCHEMA" {
			continue
		}
		if len(group.Params) == 0 {
			v.errors = append(v.errors, "header: FILE_SCHEMA has no schema list")
			continue
		}
		if list, ok := group.Params[0].(*ListAST); !ok || len(list.Items) == 0 {
			v.errors = append(v.errors, "header: FILE_SCHEMA declares no schema")
		}
	}
}

// validateTypeNames checks that every type name is an uppercase keyword
func (v *Validator) validateTypeNames() {
	for _, inst := range v.file.Data {
		for _, group := range inst.Groups {
			if !entities.IsValidTypeName(group.TypeName) {
				v.errors = append(v.errors, fmt.Sprintf("#%d: invalid type name: %s", inst.ID, group.TypeName))
			}
			v.validateTypedParams(inst.ID, group.Params)
		}
	}
}

// validateTypedParams recursively checks the type names of typed parameters
func (v *Validator) validateTypedParams(id uint64, params []ParameterAST) {
	for _, param := range params {
		switch p := param.(type) {
		case *TypedAST:
			if !entities.IsValidTypeName(p.TypeName) {
				v.errors = append(v.errors, fmt.Sprintf("#%d: invalid typed parameter name: %s", id, p.TypeName))
			}
			v.validateTypedParams(id, p.Params)
		case *ListAST:
			v.validateTypedParams(id, p.Items)
		}
	}
}

// validateComplexInstances checks that the groups of a complex instance are
// distinct and listed in alphabetical order
func (v *Validator) validateComplexInstances() {
	for _, inst := range v.file.Data {
		if !inst.Complex {
			continue
		}
		seen := make(map[string]bool)
		for i, group := range inst.Groups {
			if seen[group.TypeName] {
				v.errors = append(v.errors, fmt.Sprintf("#%d: type %s repeated in complex instance", inst.ID, group.TypeName))
			}
			seen[group.TypeName] = true
			if i > 0 && inst.Groups[i-1].TypeName > group.TypeName {
				v.errors = append(v.errors, fmt.Sprintf("#%d: complex instance types out of order: %s before %s",
					inst.ID, inst.Groups[i-1].TypeName, group.TypeName))
			}
		}
	}
}
