package controllers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/controllers"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/logging"
	"github.com/gemups/payhub/lib/registry"
	"github.com/gemups/payhub/lib/responses"
	"github.com/gemups/payhub/lib/security"
	"github.com/gemups/payhub/lib/service"
	"github.com/gemups/payhub/lib/service/memstore"
	"github.com/gemups/payhub/lib/tokens"
	"github.com/gemups/payhub/lib/transport"
	"github.com/gemups/payhub/oracle"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/sjson"
)

const (
	adminToken    = "admin-secret"
	cryptomusKey  = "cryptomus-test-key"
	shopBSCWallet = "0x6C1e40f0124A229C6FBF128e95990Ef2a9181CE0"
)

type noPrices struct{}

func (noPrices) Price(ctx context.Context, currency string) (decimal.Decimal, error) {
	return decimal.Zero, oracle.ErrUnavailable
}

type ControllerTestSuite struct {
	suite.Suite
	echo  *echo.Echo
	svc   *service.PayhubService
	store *memstore.Store
	buyer models.User
}

func (suite *ControllerTestSuite) SetupTest() {
	reg, err := registry.New([]registry.Token{
		{
			Ticker:             "USDT",
			Network:            "BSC",
			TokenAddress:       "0x55d398326f99059ff775485246999027b3197955",
			Decimals:           18,
			OKXCoinID:          5004,
			ReceivingAddresses: []string{shopBSCWallet},
		},
	})
	suite.Require().NoError(err)

	config := &service.Config{
		AdminToken:          adminToken,
		DefaultRateLimit:    1000,
		InvoiceTTL:          12 * time.Hour,
		MaxOpenInvoices:     2,
		CryptomusApiKey:     cryptomusKey,
		StripeWebhookSecret: "whsec_test_secret",
		CryptoSecretKey:     "crypto-test-key",
		DefaultCommission:   decimal.RequireFromString("0.1"),
		ReferralCeiling:     decimal.NewFromInt(500),
		ReferralHold:        72 * time.Hour,
		FulfillmentTimeout:  time.Second,
	}
	logger := logging.Logger("")
	suite.store = memstore.New()
	suite.svc = &service.PayhubService{
		Config:           config,
		Store:            suite.store,
		Oracle:           oracle.New(noPrices{}, []string{"USDT"}),
		Registry:         reg,
		Fulfiller:        service.LogFulfiller{Logger: logger},
		Logger:           logger,
		SettlementPubSub: service.NewPubsub(),
	}
	suite.buyer = suite.store.AddUser(models.User{Login: "buyer"})

	suite.echo = transport.InitEcho(config, logger)
	transport.RegisterV1Endpoints(suite.svc, suite.echo, tokens.AdminTokenMiddleware(adminToken), transport.CreateLoggingMiddleware(logger), nil)
}

func (suite *ControllerTestSuite) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for key, value := range header {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	suite.echo.ServeHTTP(rec, req)
	return rec
}

func (suite *ControllerTestSuite) admin(method, path, body string) *httptest.ResponseRecorder {
	return suite.do(method, path, body, map[string]string{echo.HeaderAuthorization: "Bearer " + adminToken})
}

func (suite *ControllerTestSuite) createTopUp(usd string) controllers.InvoiceResponseBody {
	body := fmt.Sprintf(`{"payer_id":%d,"kind":"balance","amount_usd":%q,"currency":"USDT","network":"BSC"}`, suite.buyer.ID, usd)
	rec := suite.admin(http.MethodPost, "/v1/invoices", body)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	invoice := controllers.InvoiceResponseBody{}
	suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &invoice))
	return invoice
}

func (suite *ControllerTestSuite) TestCreateInvoice() {
	invoice := suite.createTopUp("10")

	assert.True(suite.T(), decimal.RequireFromString("10.001").Equal(invoice.Amount.Decimal))
	assert.Equal(suite.T(), shopBSCWallet, invoice.Address)
	assert.True(suite.T(), invoice.IsActive)
	suite.Require().Len(invoice.Transactions, 1)
	assert.Equal(suite.T(), common.TransactionStatusCreated, invoice.Transactions[0].Status)

	rec := suite.admin(http.MethodGet, "/v1/invoices/"+invoice.UUID, "")
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), invoice.UUID)
}

func (suite *ControllerTestSuite) TestCreateInvoiceRequiresAdminToken() {
	body := fmt.Sprintf(`{"payer_id":%d,"kind":"balance","amount_usd":"10"}`, suite.buyer.ID)
	rec := suite.do(http.MethodPost, "/v1/invoices", body, map[string]string{echo.HeaderAuthorization: "Bearer wrong"})
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
}

func (suite *ControllerTestSuite) TestCreateInvoiceBadArguments() {
	rec := suite.admin(http.MethodPost, "/v1/invoices", `{"payer_id":1,"kind":"gift"}`)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)

	rec = suite.admin(http.MethodPost, "/v1/invoices", fmt.Sprintf(`{"payer_id":%d,"kind":"purchase"}`, suite.buyer.ID))
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)

	rec = suite.admin(http.MethodPost, "/v1/invoices", fmt.Sprintf(`{"payer_id":%d,"kind":"balance","amount_usd":"-1"}`, suite.buyer.ID))
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *ControllerTestSuite) TestCreateInvoiceErrors() {
	body := fmt.Sprintf(`{"payer_id":%d,"kind":"balance","amount_usd":"10","currency":"DOGE","network":"DOGE"}`, suite.buyer.ID)
	rec := suite.admin(http.MethodPost, "/v1/invoices", body)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), responses.UnsupportedCurrencyError.Message)

	rec = suite.admin(http.MethodPost, "/v1/invoices", `{"payer_id":4242,"kind":"balance","amount_usd":"10"}`)
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)

	suite.createTopUp("10")
	suite.createTopUp("20")
	body = fmt.Sprintf(`{"payer_id":%d,"kind":"balance","amount_usd":"30"}`, suite.buyer.ID)
	rec = suite.admin(http.MethodPost, "/v1/invoices", body)
	assert.Equal(suite.T(), http.StatusTooManyRequests, rec.Code)
}

func (suite *ControllerTestSuite) TestSelectCurrency() {
	body := fmt.Sprintf(`{"payer_id":%d,"kind":"balance","amount_usd":"25"}`, suite.buyer.ID)
	rec := suite.admin(http.MethodPost, "/v1/invoices", body)
	suite.Require().Equal(http.StatusOK, rec.Code)
	invoice := controllers.InvoiceResponseBody{}
	suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &invoice))
	assert.False(suite.T(), invoice.Amount.Valid)

	rec = suite.admin(http.MethodPost, "/v1/invoices/"+invoice.UUID+"/currency", `{"currency":"USDT","network":"BSC"}`)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &invoice))
	assert.True(suite.T(), decimal.RequireFromString("25.001").Equal(invoice.Amount.Decimal))

	rec = suite.admin(http.MethodPost, "/v1/invoices/"+invoice.UUID+"/currency", `{"currency":"USDT"}`)
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)

	rec = suite.admin(http.MethodPost, "/v1/invoices/unknown/currency", `{"currency":"USDT","network":"BSC"}`)
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)
}

func (suite *ControllerTestSuite) cryptomusBody(ref, status string) string {
	body := fmt.Sprintf(`{"type":"payment","order_id":%q,"status":%q,"is_final":true}`, ref, status)
	sign, err := security.Sign([]byte(body), cryptomusKey)
	suite.Require().NoError(err)
	signed, err := sjson.Set(body, security.SignField, sign)
	suite.Require().NoError(err)
	return signed
}

func (suite *ControllerTestSuite) TestCryptomusWebhook() {
	invoice := suite.createTopUp("10")

	rec := suite.do(http.MethodPost, "/v1/webhooks/cryptomus", suite.cryptomusBody(invoice.UUID, "paid"), nil)
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	response := controllers.WebhookResponseBody{}
	suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(suite.T(), common.TransactionStatusPaid, response.Status)
	assert.False(suite.T(), response.AlreadySettled)

	rec = suite.do(http.MethodPost, "/v1/webhooks/cryptomus", suite.cryptomusBody(invoice.UUID, "paid"), nil)
	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(suite.T(), response.AlreadySettled)

	balance, err := suite.store.UserBalance(context.Background(), suite.buyer.ID, common.AccountTypeCurrent)
	suite.Require().NoError(err)
	assert.True(suite.T(), decimal.NewFromInt(10).Equal(balance))
}

func (suite *ControllerTestSuite) TestCryptomusWebhookRejections() {
	invoice := suite.createTopUp("10")
	tampered := strings.Replace(suite.cryptomusBody(invoice.UUID, "cancel"), "cancel", "paid", 1)
	rec := suite.do(http.MethodPost, "/v1/webhooks/cryptomus", tampered, nil)
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)

	rec = suite.do(http.MethodPost, "/v1/webhooks/cryptomus", suite.cryptomusBody("unknown-ref", "paid"), nil)
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)
}

func (suite *ControllerTestSuite) TestStripeWebhookInvalidSignature() {
	rec := suite.do(http.MethodPost, "/v1/webhooks/stripe", `{"id":"evt_1","type":"invoice.paid"}`, map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(suite.T(), http.StatusUnauthorized, rec.Code)
}

func (suite *ControllerTestSuite) TestCryptoMethods() {
	rec := suite.do(http.MethodGet, "/v1/payments/crypto-methods", "", nil)
	suite.Require().Equal(http.StatusOK, rec.Code)
	response := controllers.CryptoMethodsResponseBody{}
	suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &response))
	suite.Require().Len(response.Methods, 1)
	assert.Equal(suite.T(), "USDT", response.Methods[0].Ticker)
	assert.Equal(suite.T(), shopBSCWallet, response.Methods[0].Networks[0].Address)
}

func (suite *ControllerTestSuite) TestReferrals() {
	path := fmt.Sprintf("/v1/referrals/%d", suite.buyer.ID)
	rec := suite.admin(http.MethodGet, path, "")
	suite.Require().Equal(http.StatusOK, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), `"available":"0"`)

	rec = suite.admin(http.MethodPost, path+"/withdraw", "")
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
	assert.Contains(suite.T(), rec.Body.String(), responses.NothingToWithdrawError.Message)

	rec = suite.admin(http.MethodGet, "/v1/referrals/4242", "")
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)

	rec = suite.admin(http.MethodGet, "/v1/referrals/abc", "")
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *ControllerTestSuite) TestHealth() {
	rec := suite.do(http.MethodGet, "/health", "", nil)
	assert.Equal(suite.T(), http.StatusOK, rec.Code)
	assert.JSONEq(suite.T(), `{"result":"OK"}`, rec.Body.String())
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

func TestWebhookResponseOmitsEmptyFields(t *testing.T) {
	body, err := json.Marshal(controllers.WebhookResponseBody{Status: "paid"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"paid"}`, string(body))
}
