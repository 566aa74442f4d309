package pollrpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError(t *testing.T) {
	err := NewError(-32000, "Server error")

	assert.Equal(t, int64(-32000), err.Code)
	assert.Equal(t, "Server error", err.Message)
	assert.True(t, err.Data.IsNil())
	assert.Equal(t, `{"code":-32000,"message":"Server error"}`, err.Value().String())
}

func TestError_WithData(t *testing.T) {
	err := ErrMethodNotFound.WithData(String("frobnicate"))

	assert.True(t, ErrMethodNotFound.Data.IsNil(), "WithData must not modify the original")
	assert.Equal(t, `{"code":-32601,"data":"frobnicate","message":"Method not found"}`, err.Value().String())
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestAsError(t *testing.T) {
	//nolint:govet //Do not reorder struct
	tests := []struct {
		name     string
		inputErr error
		wantCode int64
		wantData Value
	}{
		{"standard error", errors.New("a standard error"), CodeInternalError, String("a standard error")},
		{"rpc error", ErrMethodNotFound, CodeMethodNotFound, Nil()},
		{"wrapped rpc error", fmt.Errorf("wrapped: %w", ErrInvalidParams.WithData(Integer(2))), CodeInvalidParams, Integer(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := asError(tt.inputErr)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.True(t, tt.wantData.Equal(got.Data))
		})
	}
}

func TestError_Is(t *testing.T) {
	assert.ErrorIs(t, ErrInvalidParams.WithData(String("x")), ErrInvalidParams)
	assert.ErrorIs(t, fmt.Errorf("outer: %w", NewError(CodeInternalError, "other text")), ErrInternalError)
	assert.NotErrorIs(t, ErrParse, ErrInvalidRequest)
	assert.NotErrorIs(t, ErrParse, errors.New("Parse error"))
}
