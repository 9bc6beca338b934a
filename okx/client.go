package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/ziflex/lecho/v3"
)

const historyPath = "/priapi/v1/wallet/tx/order/list"

// DirectionDeposit marks incoming asset changes in the wallet history.
const DirectionDeposit = 1

var ErrUnavailable = errors.New("okx wallet history unavailable")

// Transfer is one asset change of the wallet history.
type Transfer struct {
	TxHash    string
	Address   string
	From      string
	To        string
	CoinID    int64
	Symbol    string
	Direction int64
	Amount    decimal.Decimal
	Decimals  int32
	TxTime    int64
}

// RawAmount is the amount in the token's smallest unit.
func (t Transfer) RawAmount() decimal.Decimal {
	return t.Amount.Shift(t.Decimals).Truncate(0)
}

func (t Transfer) ObservedAt() time.Time {
	return time.UnixMilli(t.TxTime)
}

type historyRequest struct {
	LastRowID        string   `json:"lastRowId"`
	Limit            int      `json:"limit"`
	AccountIDs       []string `json:"accountIds"`
	StartDate        int64    `json:"startDate"`
	EndDate          int64    `json:"endDate"`
	MainCoinID       string   `json:"mainCoinId"`
	Status           []int    `json:"status"`
	HideValuelessNft bool     `json:"hideValuelessNft"`
}

type Client struct {
	cfg        *Config
	httpClient *http.Client
	logger     *lecho.Logger
}

func NewClient(cfg *Config, logger *lecho.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
	}
}

// History returns the wallet transfers with since <= txTime <= until, newest
// first. Pages are walked backwards from until; every page request is retried
// with a fixed delay before the whole call gives up.
func (c *Client) History(ctx context.Context, since, until int64) ([]Transfer, error) {
	seen := map[string]bool{}
	transfers := []Transfer{}
	end := until
	for page := 0; page < c.cfg.MaxPages; page++ {
		batch, err := c.pageWithRetry(ctx, since, end)
		if err != nil {
			return nil, err
		}
		fresh := 0
		oldest := end
		for _, transfer := range batch {
			if transfer.TxTime < oldest {
				oldest = transfer.TxTime
			}
			key := transfer.TxHash + "/" + fmt.Sprint(transfer.CoinID)
			if seen[key] {
				continue
			}
			seen[key] = true
			fresh++
			transfers = append(transfers, transfer)
		}
		if len(batch) < c.cfg.PageLimit || fresh == 0 {
			return transfers, nil
		}
		// the next page overlaps on the oldest millisecond, duplicates are skipped above
		end = oldest
	}
	c.logger.Warnf("OKX history truncated after %d pages since:%d until:%d", c.cfg.MaxPages, since, until)
	return transfers, nil
}

func (c *Client) pageWithRetry(ctx context.Context, since, until int64) ([]Transfer, error) {
	var transfers []Transfer
	operation := func() error {
		page, err := c.page(ctx, since, until)
		if err != nil {
			return err
		}
		transfers = page
		return nil
	}
	attempts := c.cfg.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), attempts-1), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.logger.Infof("Retrying OKX history request in %v: %v", wait, err)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return transfers, nil
}

func (c *Client) page(ctx context.Context, since, until int64) ([]Transfer, error) {
	body, err := json.Marshal(historyRequest{
		Limit:            c.cfg.PageLimit,
		AccountIDs:       c.cfg.AccountIDs,
		StartDate:        since,
		EndDate:          until,
		Status:           []int{1, 2, 3, 4},
		HideValuelessNft: true,
	})
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	endpoint := strings.TrimRight(c.cfg.WalletURL, "/") + historyPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}
	return ParseHistory(payload)
}

// ParseHistory decodes a wallet history response. Fields it does not know
// are ignored, items without a hash or a readable asset change are skipped.
func ParseHistory(payload []byte) ([]Transfer, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("invalid history response")
	}
	doc := gjson.ParseBytes(payload)
	if code := doc.Get("code"); code.Exists() && code.String() != "0" {
		return nil, fmt.Errorf("history request failed code:%s msg:%s", code.String(), doc.Get("msg").String())
	}

	transfers := []Transfer{}
	doc.Get("data.content").ForEach(func(_, item gjson.Result) bool {
		change := item.Get("assetChange.0")
		if !change.Exists() {
			return true
		}
		amount, err := decimal.NewFromString(change.Get("coinAmount").String())
		if err != nil || item.Get("txhash").String() == "" {
			return true
		}
		transfers = append(transfers, Transfer{
			TxHash:    item.Get("txhash").String(),
			Address:   item.Get("address").String(),
			From:      firstString(item.Get("from")),
			To:        firstString(item.Get("to")),
			CoinID:    change.Get("coinId").Int(),
			Symbol:    change.Get("coinSymbol").String(),
			Direction: change.Get("direction").Int(),
			Amount:    amount.Abs(),
			Decimals:  int32(change.Get("vdecimalNum").Int()),
			TxTime:    item.Get("txTime").Int(),
		})
		return true
	})
	return transfers, nil
}

func firstString(value gjson.Result) string {
	if value.IsArray() {
		return value.Get("0").String()
	}
	return value.String()
}
