package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

func TestRespondErrorUsesFirstMatchingRule(t *testing.T) {
	rules := []ErrorRule{
		{Target: errMissing, Status: http.StatusNotFound, Title: "Not Found"},
	}
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("account 9: %w", errMissing), rules)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Not Found", body.Title)
	require.Equal(t, "account 9: missing", body.Detail)
}

func TestRespondErrorHidesUnmatched(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection reset"), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection reset")
}
