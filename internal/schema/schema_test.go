package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validTaskJSON() string {
	return `{
		"type": "code",
		"priority": "normal",
		"model": "sonnet",
		"prompt": "implement the thing",
		"timeoutMinutes": 30,
		"budgetCents": 100,
		"context": {"branch": "feature/x", "files": ["a.go"], "dependencies": []}
	}`
}

func TestValidateTask_AcceptsWellFormedTask(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	fieldErrs, err := v.ValidateTask([]byte(validTaskJSON()))
	require.NoError(t, err)
	require.Empty(t, fieldErrs)
}

func TestValidateTask_RejectsUnknownType(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	body := `{"type": "bogus", "prompt": "x", "context": {"branch": "main"}}`
	fieldErrs, err := v.ValidateTask([]byte(body))
	require.ErrorIs(t, err, ErrValidation)
	require.NotEmpty(t, fieldErrs)
}

func TestValidateTask_RejectsMissingRequiredField(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	body := `{"type": "code", "context": {"branch": "main"}}`
	_, err = v.ValidateTask([]byte(body))
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidateTask_RejectsBranchNotMatchingPattern(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	body := `{"type": "code", "prompt": "x", "context": {"branch": "has a space"}}`
	_, err = v.ValidateTask([]byte(body))
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidateEnvelope_RejectsEmptyTaskList(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	_, err = v.ValidateEnvelope([]byte(`{"tasks": []}`))
	require.ErrorIs(t, err, ErrValidation)
}

func TestValidateEnvelope_AcceptsBatchOfValidTasks(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	body := `{"tasks": [` + validTaskJSON() + `, ` + validTaskJSON() + `]}`
	fieldErrs, err := v.ValidateEnvelope([]byte(body))
	require.NoError(t, err)
	require.Empty(t, fieldErrs)
}

func TestValidateResult_NoOpWhenNoSchemaRegistered(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	fieldErrs, err := v.ValidateResult("doc", []byte(`{"anything": true}`))
	require.NoError(t, err)
	require.Nil(t, fieldErrs)
}

func TestValidateResult_SoftFlagsMismatchAfterRegistration(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	require.NoError(t, v.RegisterResultSchema("doc", `{
		"type": "object",
		"required": ["summary"],
		"properties": {"summary": {"type": "string"}}
	}`))

	_, err = v.ValidateResult("doc", []byte(`{}`))
	require.ErrorIs(t, err, ErrValidation)

	fieldErrs, err := v.ValidateResult("doc", []byte(`{"summary": "done"}`))
	require.NoError(t, err)
	require.Empty(t, fieldErrs)
}
