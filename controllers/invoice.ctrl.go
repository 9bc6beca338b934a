package controllers

import (
	"net/http"
	"time"

	"github.com/gemups/payhub/common"
	"github.com/gemups/payhub/db/models"
	"github.com/gemups/payhub/lib/responses"
	"github.com/gemups/payhub/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// InvoiceController : invoice controller struct
type InvoiceController struct {
	svc *service.PayhubService
}

func NewInvoiceController(svc *service.PayhubService) *InvoiceController {
	return &InvoiceController{svc: svc}
}

type InvoiceItemBody struct {
	ProductID int64 `json:"product_id" validate:"required"`
	Quantity  int64 `json:"quantity" validate:"gte=0"`
}

type CreateInvoiceRequestBody struct {
	PayerID   int64             `json:"payer_id" validate:"required"`
	Kind      string            `json:"kind" validate:"required,oneof=purchase balance"`
	Items     []InvoiceItemBody `json:"items" validate:"dive"`
	AmountUSD decimal.Decimal   `json:"amount_usd"`
	Currency  string            `json:"currency"`
	Network   string            `json:"network" validate:"required_with=Currency"`
}

type SelectCurrencyRequestBody struct {
	Currency string `json:"currency" validate:"required"`
	Network  string `json:"network" validate:"required"`
}

type TransactionResponseBody struct {
	UUID      string          `json:"uuid"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Quantity  int64           `json:"quantity"`
	ProductID int64           `json:"product_id,omitempty"`
	Settled   bool            `json:"settled"`
}

type InvoiceResponseBody struct {
	UUID         string                    `json:"uuid"`
	Kind         string                    `json:"kind"`
	PayerID      int64                     `json:"payer_id"`
	AmountUSD    decimal.Decimal           `json:"amount_usd"`
	Currency     string                    `json:"currency,omitempty"`
	Network      string                    `json:"network,omitempty"`
	Amount       decimal.NullDecimal       `json:"amount"`
	Address      string                    `json:"address,omitempty"`
	IsActive     bool                      `json:"is_active"`
	ExpiresAt    time.Time                 `json:"expires_at"`
	Transactions []TransactionResponseBody `json:"transactions"`
}

func (controller *InvoiceController) response(invoice *models.Invoice) *InvoiceResponseBody {
	body := &InvoiceResponseBody{
		UUID:         invoice.ExternalID,
		Kind:         invoice.Kind,
		PayerID:      invoice.PayerID,
		AmountUSD:    invoice.AmountUSD,
		Currency:     invoice.Currency,
		Network:      invoice.Network,
		Amount:       invoice.QuotedAmount,
		Address:      controller.svc.PaymentAddress(invoice),
		IsActive:     invoice.Active,
		ExpiresAt:    invoice.ExpiresAt,
		Transactions: make([]TransactionResponseBody, 0, len(invoice.Transactions)),
	}
	for _, t := range invoice.Transactions {
		body.Transactions = append(body.Transactions, TransactionResponseBody{
			UUID:      t.ExternalID,
			Kind:      t.Kind,
			Status:    t.Status,
			Amount:    t.Amount,
			Quantity:  t.Quantity,
			ProductID: t.ProductID,
			Settled:   t.IsSettled(),
		})
	}
	return body
}

// CreateInvoice godoc
// @Summary      Create an invoice
// @Description  Creates a purchase or balance top-up invoice. With currency and network the unique amount is allocated right away.
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        invoice  body      CreateInvoiceRequestBody  true  "Invoice"
// @Success      200      {object}  InvoiceResponseBody
// @Failure      400      {object}  responses.ErrorResponse
// @Failure      429      {object}  responses.ErrorResponse
// @Failure      503      {object}  responses.ErrorResponse
// @Router       /v1/invoices [post]
// @Security     AdminToken
func (controller *InvoiceController) CreateInvoice(c echo.Context) error {
	var body CreateInvoiceRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load create invoice request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		c.Logger().Errorf("Invalid create invoice request body error: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	switch body.Kind {
	case common.InvoiceKindPurchase:
		if len(body.Items) == 0 {
			return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
		}
	case common.InvoiceKindBalance:
		if !body.AmountUSD.IsPositive() {
			return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
		}
	}

	items := make([]service.InvoiceItem, 0, len(body.Items))
	for _, item := range body.Items {
		items = append(items, service.InvoiceItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	invoice, err := controller.svc.CreateInvoice(c.Request().Context(), service.CreateInvoiceParams{
		PayerID:   body.PayerID,
		Kind:      body.Kind,
		Items:     items,
		AmountUSD: body.AmountUSD,
		Currency:  body.Currency,
		Network:   body.Network,
	})
	if err != nil {
		return responses.Respond(c, err)
	}
	return c.JSON(http.StatusOK, controller.response(invoice))
}

// SelectCurrency godoc
// @Summary      Select the payment currency of an invoice
// @Accept       json
// @Produce      json
// @Tags         Invoice
// @Param        uuid      path      string                     true  "Invoice uuid"
// @Param        currency  body      SelectCurrencyRequestBody  true  "Currency"
// @Success      200       {object}  InvoiceResponseBody
// @Failure      400       {object}  responses.ErrorResponse
// @Failure      404       {object}  responses.ErrorResponse
// @Router       /v1/invoices/{uuid}/currency [post]
// @Security     AdminToken
func (controller *InvoiceController) SelectCurrency(c echo.Context) error {
	var body SelectCurrencyRequestBody

	if err := c.Bind(&body); err != nil {
		c.Logger().Errorf("Failed to load select currency request body: %v", err)
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}

	invoice, err := controller.svc.SelectInvoiceCurrency(c.Request().Context(), c.Param("uuid"), body.Currency, body.Network)
	if err != nil {
		return responses.Respond(c, err)
	}
	return c.JSON(http.StatusOK, controller.response(invoice))
}

func (controller *InvoiceController) GetInvoice(c echo.Context) error {
	invoice, err := controller.svc.GetInvoice(c.Request().Context(), c.Param("uuid"))
	if err != nil {
		return responses.Respond(c, err)
	}
	return c.JSON(http.StatusOK, controller.response(invoice))
}
