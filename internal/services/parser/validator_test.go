package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidFile(t *testing.T) {
	file := parseString(t, wrapData("#1=A(1);\n#2=(B()C(.T.));\n"))

	validator := NewValidator(file)
	assert.NoError(t, validator.Validate())
	assert.Empty(t, validator.Findings())
}

func TestValidator_Findings(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{
			name:    "missing FILE_SCHEMA",
			input:   "ISO-10303-21;\nHEADER;\nFILE_DESCRIPTION((''),'2;1');\nFILE_NAME('','',(''),(''),'','','');\nENDSEC;\nDATA;\nENDSEC;\nEND-ISO-10303-21;\n",
			wantMsg: "missing FILE_SCHEMA",
		},
		{
			name:    "empty schema list",
			input:   "ISO-10303-21;\nHEADER;\nFILE_DESCRIPTION((''),'2;1');\nFILE_NAME('','',(''),(''),'','','');\nFILE_SCHEMA(());\nENDSEC;\nDATA;\nENDSEC;\nEND-ISO-10303-21;\n",
			wantMsg: "declares no schema",
		},
		{
			name:    "lowercase type name",
			input:   wrapData("#1=point(1);\n"),
			wantMsg: "invalid type name: point",
		},
		{
			name:    "lowercase typed parameter",
			input:   wrapData("#1=A((measure(1.)));\n"),
			wantMsg: "invalid typed parameter name: measure",
		},
		{
			name:    "complex instance out of order",
			input:   wrapData("#1=(SI_UNIT(.MILLI.,.METRE.)LENGTH_UNIT());\n"),
			wantMsg: "out of order",
		},
		{
			name:    "complex instance repeated type",
			input:   wrapData("#1=(A()A());\n"),
			wantMsg: "repeated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := parseString(t, tt.input)

			validator := NewValidator(file)
			err := validator.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.NotEmpty(t, validator.Findings())
		})
	}
}
