package okx

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	WalletURL     string        `envconfig:"OKX_WALLET_URL" default:"https://wallet.okex.org"`
	AccountIDs    []string      `envconfig:"OKX_ACCOUNT_IDS"`
	PageLimit     int           `envconfig:"OKX_PAGE_LIMIT" default:"5"`
	MaxPages      int           `envconfig:"OKX_MAX_PAGES" default:"20"`
	RetryAttempts uint64        `envconfig:"SCANNER_RETRY_ATTEMPTS" default:"7"`
	RetryDelay    time.Duration `envconfig:"SCANNER_RETRY_DELAY" default:"2s"`
	HTTPTimeout   time.Duration `envconfig:"SCANNER_HTTP_TIMEOUT" default:"15s"`
}

func LoadConfig() (c *Config, err error) {
	c = &Config{}
	err = envconfig.Process("", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}
