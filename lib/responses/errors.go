package responses

import (
	"errors"
	"net/http"

	"github.com/gemups/payhub/lib/service"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var BadArgumentsError = ErrorResponse{
	Error:          true,
	Code:           8,
	Message:        "Bad arguments",
	HttpStatusCode: 400,
}

var BadAuthError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "bad auth",
	HttpStatusCode: 401,
}

var InvalidSignatureError = ErrorResponse{
	Error:          true,
	Code:           1,
	Message:        "invalid signature",
	HttpStatusCode: 401,
}

var NotFoundError = ErrorResponse{
	Error:          true,
	Code:           3,
	Message:        "not found",
	HttpStatusCode: 404,
}

var UnsupportedCurrencyError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "unsupported currency or network",
	HttpStatusCode: 400,
}

var InvoiceNotSelectableError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "invoice is already paid, the currency can not be changed",
	HttpStatusCode: 400,
}

var NothingToWithdrawError = ErrorResponse{
	Error:          true,
	Code:           2,
	Message:        "nothing to withdraw",
	HttpStatusCode: 400,
}

var TooManyOpenInvoicesError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "too many open invoices. pay or wait for the expiry of an open invoice",
	HttpStatusCode: 429,
}

var OracleUnavailableError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "price oracle unavailable. please try again later",
	HttpStatusCode: 503,
}

var ProviderUnavailableError = ErrorResponse{
	Error:          true,
	Code:           5,
	Message:        "payment provider unavailable. please try again later",
	HttpStatusCode: 503,
}

var errorResponses = []struct {
	err      error
	response ErrorResponse
}{
	{service.ErrInvalidSignature, InvalidSignatureError},
	{service.ErrNotFound, NotFoundError},
	{service.ErrUnsupportedCurrency, UnsupportedCurrencyError},
	{service.ErrInvoiceNotSelectable, InvoiceNotSelectableError},
	{service.ErrNothingToWithdraw, NothingToWithdrawError},
	{service.ErrTooManyOpenInvoices, TooManyOpenInvoicesError},
	{service.ErrOracleUnavailable, OracleUnavailableError},
	{service.ErrProviderUnavailable, ProviderUnavailableError},
}

// ErrorFor maps a service error to the response returned to the client.
func ErrorFor(err error) ErrorResponse {
	for _, candidate := range errorResponses {
		if errors.Is(err, candidate.err) {
			return candidate.response
		}
	}
	return GeneralServerError
}

// Respond writes the error response matching err.
func Respond(c echo.Context, err error) error {
	response := ErrorFor(err)
	if response.HttpStatusCode >= http.StatusInternalServerError {
		// unknown errors go through the error handler and end up in sentry
		return err
	}
	c.Logger().Warnf("Request failed path:%s error:%v", c.Path(), err)
	return c.JSON(response.HttpStatusCode, response)
}

func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	c.Logger().Error(err)
	if hub := sentryecho.GetHubFromContext(c); hub != nil && isErrAllowedForSentry(err) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetExtra("RequestID", c.Response().Header().Get(echo.HeaderXRequestID))
			hub.CaptureException(err)
		})
	}
	if he, ok := err.(*echo.HTTPError); ok {
		c.JSON(he.Code, he.Message)
		return
	}
	response := ErrorFor(err)
	c.JSON(response.HttpStatusCode, response)
}

// isErrAllowedForSentry filters out authentication failures.
func isErrAllowedForSentry(err error) bool {
	if errors.Is(err, service.ErrInvalidSignature) {
		return false
	}
	if he, ok := err.(*echo.HTTPError); ok {
		if he.Code == http.StatusUnauthorized {
			return false
		}
		if msg, ok := he.Message.(echo.Map); ok && msg["code"] == BadAuthError.Code {
			return false
		}
	}
	return true
}
