package airship

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusError(t *testing.T) {
	tests := []struct {
		status  int
		body    string
		kind    error
		message string
		code    int
	}{
		{http.StatusUnauthorized, `{"ok":false,"error":"Unauthorized","error_code":40100}`, ErrAuth, "Unauthorized", 40100},
		{http.StatusForbidden, ``, ErrAuth, "Forbidden", 0},
		{http.StatusNotFound, `{"ok":false,"error":"Not found"}`, ErrNotFound, "Not found", 0},
		{http.StatusBadRequest, `{"ok":false,"details":{"error":"bad precision"},"error_code":40001}`, ErrRemote, "bad precision", 40001},
		{http.StatusBadGateway, `upstream gone`, ErrRemote, "upstream gone", 0},
	}
	for _, tt := range tests {
		var eb errorBody
		_ = json.Unmarshal([]byte(tt.body), &eb)
		err := statusError("op", tt.status, eb, []byte(tt.body))

		assert.ErrorIs(t, err, tt.kind, "status %d", tt.status)
		assert.Equal(t, tt.kind, Kind(err))

		var ae *Error
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, tt.status, ae.Status)
		assert.Equal(t, tt.message, ae.Message)
		assert.Equal(t, tt.code, ae.Code)
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: ErrRemote, Op: "perpush_series", Status: 400, Code: 40001, Message: "bad range"}
	assert.Equal(t, "airship perpush_series: remote error: http 400 (code 40001): bad range", err.Error())

	err = &Error{Kind: ErrTransport, Op: "perpush_detail", Err: io.ErrUnexpectedEOF}
	assert.Equal(t, "airship perpush_detail: transport error: unexpected EOF", err.Error())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrRemote)
}

func TestValidationError(t *testing.T) {
	err := ValidationError("perpush_detail_batch", "at most %d ids", MaxBatchSize)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "at most 100 ids")
	assert.Nil(t, Kind(errors.New("plain")))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "auth", Outcome(&Error{Kind: ErrAuth}))
	assert.Equal(t, "not_found", Outcome(&Error{Kind: ErrNotFound}))
	assert.Equal(t, "validation", Outcome(&Error{Kind: ErrValidation}))
	assert.Equal(t, "transport", Outcome(&Error{Kind: ErrTransport}))
	assert.Equal(t, "remote", Outcome(&Error{Kind: ErrRemote}))
}

func TestStatusError_TruncatesOnRuneBoundary(t *testing.T) {
	// 255 ASCII bytes then a 3-byte rune straddling the cap.
	raw := strings.Repeat("x", 255) + "世界"
	err := statusError("op", http.StatusBadGateway, errorBody{}, []byte(raw))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.True(t, utf8.ValidString(e.Message))
	assert.Equal(t, strings.Repeat("x", 255), e.Message)

	assert.Equal(t, "abc", truncate("abc", 256))
	assert.Equal(t, strings.Repeat("y", 256), truncate(strings.Repeat("y", 300), 256))
}
