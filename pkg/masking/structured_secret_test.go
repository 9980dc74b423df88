package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredSecretMasker_AppliesToRequiresFieldName(t *testing.T) {
	m := &StructuredSecretMasker{}
	assert.False(t, m.AppliesTo(""))
	assert.False(t, m.AppliesTo(`{"status": "ok"}`))
	assert.True(t, m.AppliesTo(`{"password": "hunter2"}`))
}

func TestStructuredSecretMasker_MasksNestedJSONField(t *testing.T) {
	m := &StructuredSecretMasker{}
	in := `{"service": "db", "credentials": {"password": "FAKE-NOT-REAL-XXXX", "user": "admin"}}`

	out := m.Mask(in)

	assert.NotContains(t, out, "FAKE-NOT-REAL-XXXX")
	assert.Contains(t, out, MaskedSecretValue)
	assert.Contains(t, out, `"user": "admin"`)
}

func TestStructuredSecretMasker_MasksYAMLField(t *testing.T) {
	m := &StructuredSecretMasker{}
	in := "service: db\ntoken: FAKE-NOT-REAL-TOKEN-XXXX\n"

	out := m.Mask(in)

	assert.NotContains(t, out, "FAKE-NOT-REAL-TOKEN-XXXX")
	assert.Contains(t, out, MaskedSecretValue)
}

func TestStructuredSecretMasker_LeavesUnparseableInputUnchanged(t *testing.T) {
	m := &StructuredSecretMasker{}
	in := "password expired, please rotate your api_key before next deploy"
	assert.Equal(t, in, m.Mask(in))
}

func TestService_WiresStructuredSecretMaskerIntoOutputPath(t *testing.T) {
	svc := NewService()
	content := `{"config": {"api_key": "FAKE-NOT-REAL-CONFIG-KEY-XXXX"}}`

	result := svc.MaskOutput(content)

	assert.NotContains(t, result, "FAKE-NOT-REAL-CONFIG-KEY-XXXX")
	require.NotEmpty(t, svc.codeMaskers)
}
