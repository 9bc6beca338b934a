package controllers

import (
	"net/http"
	"strconv"

	"github.com/gemups/payhub/lib/responses"
	"github.com/gemups/payhub/lib/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// ReferralController : referral earnings controller struct
type ReferralController struct {
	svc *service.PayhubService
}

func NewReferralController(svc *service.PayhubService) *ReferralController {
	return &ReferralController{svc: svc}
}

type WithdrawResponseBody struct {
	UserID    int64           `json:"user_id"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
}

func userIDParam(c echo.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

// Summary godoc
// @Summary      Referral earnings of a user
// @Produce      json
// @Tags         Referral
// @Param        user_id  path      int  true  "User id"
// @Success      200      {object}  service.ReferralSummary
// @Failure      404      {object}  responses.ErrorResponse
// @Router       /v1/referrals/{user_id} [get]
// @Security     AdminToken
func (controller *ReferralController) Summary(c echo.Context) error {
	userID, ok := userIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	summary, err := controller.svc.ReferralSummary(c.Request().Context(), userID)
	if err != nil {
		return responses.Respond(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// Withdraw moves the available referral earnings to the current balance.
func (controller *ReferralController) Withdraw(c echo.Context) error {
	userID, ok := userIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, responses.BadArgumentsError)
	}
	amount, err := controller.svc.WithdrawReferral(c.Request().Context(), userID)
	if err != nil {
		return responses.Respond(c, err)
	}
	return c.JSON(http.StatusOK, &WithdrawResponseBody{UserID: userID, Withdrawn: amount})
}
