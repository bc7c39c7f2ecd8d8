package parser

import (
	"fmt"

	"github.com/asakaida/stepscope/internal/entities"
)

// ASTToTable converts the DATA instances of a FileAST to an EntityTable.
// Instances that cannot be converted and duplicate ids are returned as
// errors; the first occurrence of an id is kept.
func ASTToTable(ast *FileAST) (*entities.EntityTable, []*entities.ParseError) {
	table := entities.NewEntityTable()
	var errs []*entities.ParseError

	for _, inst := range ast.Data {
		entity, err := convertInstance(inst)
		if err != nil {
			errs = append(errs, &entities.ParseError{
				Kind:     entities.ParseErrorUnexpectedToken,
				EntityID: inst.ID,
				Line:     inst.Line,
				Column:   inst.Column,
				Message:  err.Error(),
			})
			continue
		}
		if dupErr := table.Add(entity); dupErr != nil {
			dupErr.Column = inst.Column
			errs = append(errs, dupErr)
		}
	}

	return table, errs
}

// ASTToHeader converts the HEADER entities to an entities.Header
func ASTToHeader(groups []*GroupAST) (*entities.Header, error) {
	header := &entities.Header{
		Entries: make([]entities.Group, 0, len(groups)),
	}

	for _, groupAST := range groups {
		group, err := convertGroup(groupAST)
		if err != nil {
			return nil, fmt.Errorf("failed to convert header entity %s: %w", groupAST.TypeName, err)
		}
		header.Entries = append(header.Entries, group)

		attrs := group.Attributes
		switch group.TypeName {
		case "FILE_DESCRIPTION":
			header.Description = stringList(attrs, 0)
			header.ImplementationLevel = stringAt(attrs, 1)
		case "FILE_NAME":
			header.FileName = stringAt(attrs, 0)
			header.TimeStamp = stringAt(attrs, 1)
			header.Author = stringList(attrs, 2)
			header.Organization = stringList(attrs, 3)
			header.PreprocessorVersion = stringAt(attrs, 4)
			header.OriginatingSystem = stringAt(attrs, 5)
			header.Authorization = stringAt(attrs, 6)
		case "FILE_SCHEMA":
			header.Schemas = stringList(attrs, 0)
		}
	}

	return header, nil
}

// EntityToAST converts an entity back to its AST form
func EntityToAST(entity *entities.Entity) *InstanceAST {
	inst := &InstanceAST{
		ID:      entity.ID,
		Groups:  make([]*GroupAST, 0, len(entity.Groups)),
		Complex: entity.IsComplex(),
		Line:    entity.Line,
	}
	for _, g := range entity.Groups {
		inst.Groups = append(inst.Groups, &GroupAST{
			TypeName: g.TypeName,
			Params:   valuesToAST(g.Attributes),
		})
	}
	return inst
}

// convertInstance converts InstanceAST to entities.Entity
func convertInstance(inst *InstanceAST) (*entities.Entity, error) {
	entity := &entities.Entity{
		ID:     inst.ID,
		Groups: make([]entities.Group, 0, len(inst.Groups)),
		Line:   inst.Line,
	}

	for _, groupAST := range inst.Groups {
		group, err := convertGroup(groupAST)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", groupAST.TypeName, err)
		}
		entity.Groups = append(entity.Groups, group)
	}

	return entity, nil
}

// convertGroup converts GroupAST to entities.Group
func convertGroup(ast *GroupAST) (entities.Group, error) {
	attrs, err := convertParams(ast.Params)
	if err != nil {
		return entities.Group{}, err
	}
	return entities.Group{TypeName: ast.TypeName, Attributes: attrs}, nil
}

// convertParams converts a parameter list
func convertParams(params []ParameterAST) ([]entities.AttributeValue, error) {
	values := make([]entities.AttributeValue, 0, len(params))
	for i, param := range params {
		value, err := convertParam(param)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		values = append(values, value)
	}
	return values, nil
}

// convertParam converts ParameterAST to entities.AttributeValue
func convertParam(param ParameterAST) (entities.AttributeValue, error) {
	switch p := param.(type) {
	case *NumberAST:
		return entities.NumberValue(p.Raw)
	case *StringAST:
		return entities.RawStringValue(p.Raw), nil
	case *EnumAST:
		return entities.EnumValue(p.Name), nil
	case *ReferenceAST:
		return entities.RefValue(p.ID), nil
	case *ListAST:
		items, err := convertParams(p.Items)
		if err != nil {
			return entities.AttributeValue{}, err
		}
		return entities.ListValue(items...), nil
	case *UnsetAST:
		return entities.UnsetValue(), nil
	case *DerivedAST:
		return entities.DerivedValue(), nil
	case *TypedAST:
		inner, err := convertParams(p.Params)
		if err != nil {
			return entities.AttributeValue{}, err
		}
		return entities.TypedValue(p.TypeName, inner...), nil
	default:
		return entities.AttributeValue{}, fmt.Errorf("unknown parameter type: %T", param)
	}
}

// valuesToAST converts attribute values back to parameters
func valuesToAST(values []entities.AttributeValue) []ParameterAST {
	params := make([]ParameterAST, 0, len(values))
	for _, v := range values {
		params = append(params, valueToAST(v))
	}
	return params
}

// valueToAST converts entities.AttributeValue to ParameterAST
func valueToAST(v entities.AttributeValue) ParameterAST {
	switch v.Kind {
	case entities.AttributeNumber:
		raw := v.Raw
		if raw == "" {
			raw = v.String()
		}
		return &NumberAST{Raw: raw, Real: !v.IsInteger}
	case entities.AttributeString:
		raw := v.Raw
		if raw == "" {
			raw = entities.EncodeString(v.Text)
		}
		return &StringAST{Raw: raw}
	case entities.AttributeEnumeration:
		return &EnumAST{Name: v.Text}
	case entities.AttributeReference:
		return &ReferenceAST{ID: v.Ref}
	case entities.AttributeList:
		return &ListAST{Items: valuesToAST(v.Items)}
	case entities.AttributeDerived:
		return &DerivedAST{}
	case entities.AttributeTyped:
		return &TypedAST{TypeName: v.Text, Params: valuesToAST(v.Items)}
	default:
		return &UnsetAST{}
	}
}

// stringAt returns the string attribute at index i, or "" when absent
func stringAt(attrs []entities.AttributeValue, i int) string {
	if i >= len(attrs) || attrs[i].Kind != entities.AttributeString {
		return ""
	}
	return attrs[i].Text
}

// stringList returns the strings of the list attribute at index i
func stringList(attrs []entities.AttributeValue, i int) []string {
	if i >= len(attrs) || attrs[i].Kind != entities.AttributeList {
		return nil
	}
	var result []string
	for _, item := range attrs[i].Items {
		if item.Kind == entities.AttributeString {
			result = append(result, item.Text)
		}
	}
	return result
}
