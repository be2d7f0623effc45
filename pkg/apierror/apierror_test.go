package apierror_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jimyag/vlab/pkg/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		testFunc func(*testing.T)
	}{
		{
			name: "Error_Error",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.NewError("TestError", "test message")
				assert.Equal(t, "[TestError] test message", err.Error())
				assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
			},
		},
		{
			name: "Error_Error_WithRawError",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.WrapError(apierror.ErrSpawn, "spawn failed", fmt.Errorf("raw error"))
				assert.Equal(t, "[SpawnFailed] spawn failed (RawError: raw error)", err.Error())
			},
		},
		{
			name: "Error_Is_SameCode",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.WrapError(apierror.ErrNodeNotFound, "node node-1 does not exist", nil)
				assert.True(t, errors.Is(err, apierror.ErrNodeNotFound))
				assert.False(t, errors.Is(err, apierror.ErrBaseImageNotFound))
			},
		},
		{
			name: "Error_Is_ThroughFmtWrap",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := fmt.Errorf("start: %w", apierror.WrapError(apierror.ErrRegistration, "gateway down", nil))
				assert.True(t, errors.Is(err, apierror.ErrRegistration))
			},
		},
		{
			name: "Error_Unwrap",
			testFunc: func(t *testing.T) {
				t.Parallel()
				rawErr := fmt.Errorf("raw error")
				err := apierror.WrapError(apierror.ErrStoreIO, "save failed", rawErr)
				assert.Equal(t, rawErr, errors.Unwrap(err))
				assert.Nil(t, errors.Unwrap(apierror.NewError("TestError", "no raw")))
			},
		},
		{
			name: "WrapError_KeepsStatus",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.WrapError(apierror.ErrBaseImageNotFound, "base image missing.qcow2 not found", nil)
				assert.Equal(t, "BaseImageNotFound", err.Code)
				assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.testFunc)
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name   string
		err    error
		expect int
	}{
		{name: "not found", err: apierror.WrapError(apierror.ErrNodeNotFound, "x", nil), expect: http.StatusNotFound},
		{name: "registration", err: apierror.WrapError(apierror.ErrRegistration, "x", nil), expect: http.StatusBadGateway},
		{name: "wrapped", err: fmt.Errorf("op: %w", apierror.WrapError(apierror.ErrInvalidParameter, "x", nil)), expect: http.StatusBadRequest},
		{name: "plain error", err: errors.New("boom"), expect: http.StatusInternalServerError},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expect, apierror.StatusOf(tc.err))
		})
	}
}

func TestErrorResponse_JSON(t *testing.T) {
	t.Parallel()

	resp := apierror.NewErrorResponse("req-1", apierror.WrapError(apierror.ErrNodeNotFound, "node node-1 does not exist", errors.New("hidden")))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"errors":[{"code":"NodeNotFound","message":"node node-1 does not exist"}],"requestID":"req-1"}`, string(data))
	assert.Contains(t, resp.Error(), "RequestID: req-1")
}
