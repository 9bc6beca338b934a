package responses

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gemups/payhub/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestBadAuthErrorsNotAllowedForSentry(t *testing.T) {
	badAuthErrResponse := echo.NewHTTPError(http.StatusBadRequest, echo.Map{
		"error":   true,
		"code":    1,
		"message": "bad auth",
	})

	isAllowed := isErrAllowedForSentry(badAuthErrResponse)
	assert.False(t, isAllowed)
}

func TestNotBadAuthErrorsAllowedForSentry(t *testing.T) {
	notBadAuthErrResponse := echo.NewHTTPError(http.StatusBadRequest, echo.Map{
		"error":   true,
		"code":    2,
		"message": "not bad auth",
	})

	isAllowed := isErrAllowedForSentry(notBadAuthErrResponse)
	assert.True(t, isAllowed)
}

func TestNonErrorResponseErrorsAllowedForSentry(t *testing.T) {
	err := errors.New("random error")

	isAllowed := isErrAllowedForSentry(err)
	assert.True(t, isAllowed)
}

func TestInvalidSignatureNotAllowedForSentry(t *testing.T) {
	err := fmt.Errorf("cryptomus: %w", service.ErrInvalidSignature)

	assert.False(t, isErrAllowedForSentry(err))
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{service.ErrInvalidSignature, http.StatusUnauthorized},
		{fmt.Errorf("invoice abc: %w", service.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: binance timeout", service.ErrOracleUnavailable), http.StatusServiceUnavailable},
		{service.ErrUnsupportedCurrency, http.StatusBadRequest},
		{service.ErrTooManyOpenInvoices, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, ErrorFor(tt.err).HttpStatusCode, tt.err.Error())
	}
}

func TestRespondWritesMappedError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := Respond(c, service.ErrTooManyOpenInvoices)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "too many open invoices")

	unknown := errors.New("boom")
	assert.Equal(t, unknown, Respond(c, unknown))
}
