package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finanza-bank/ledger-core/internal/apperr"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestWriteErrorUsesCodeStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperr.New(apperr.CodeStateConflict, "transaction 7 is completed"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "STATE_CONFLICT", body.Code)
	assert.Equal(t, "transaction 7 is completed", body.Error)
	assert.False(t, body.Retryable)
}

func TestWriteErrorHidesUntypedErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.Equal(t, "internal error", body.Error)
	assert.True(t, body.Retryable)
}
