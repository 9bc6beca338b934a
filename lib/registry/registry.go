package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
)

//go:embed tokens.json
var defaultTokens []byte

var evmNetworks = map[string]bool{
	"BSC":      true,
	"ETHEREUM": true,
	"OPTIMISM": true,
	"ARBITRUM": true,
	"POLYGON":  true,
	"AVAXC":    true,
}

const tronNetwork = "TRX"

// Token describes one currency on one network that the shop accepts.
type Token struct {
	Ticker             string   `json:"ticker"`
	Network            string   `json:"network"`
	TokenAddress       string   `json:"token_address"`
	Decimals           int32    `json:"decimals"`
	OKXCoinID          int64    `json:"okx_coin_id"`
	ReceivingAddresses []string `json:"to_address"`
}

type Network struct {
	Network string `json:"network"`
	Address string `json:"address"`
}

// Method is one entry of the crypto payment methods listing.
type Method struct {
	Ticker   string    `json:"ticker"`
	Networks []Network `json:"networks"`
}

type Registry struct {
	tokens []Token
	byCoin map[int64]int
}

// Load reads the registry from a json file, or the built-in one when path is empty.
func Load(path string) (*Registry, error) {
	data := defaultTokens
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read token registry %s: %w", path, err)
		}
		data = content
	}
	tokens := []Token{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("decode token registry: %w", err)
	}
	return New(tokens)
}

// New validates the tokens and normalizes their addresses.
func New(tokens []Token) (*Registry, error) {
	r := &Registry{byCoin: map[int64]int{}}
	for _, token := range tokens {
		token.Ticker = strings.ToUpper(token.Ticker)
		token.Network = strings.ToUpper(token.Network)
		if token.Ticker == "" || token.Network == "" {
			return nil, fmt.Errorf("token registry entry without ticker or network: %+v", token)
		}
		if _, ok := r.Lookup(token.Ticker, token.Network); ok {
			return nil, fmt.Errorf("duplicate token registry entry %s/%s", token.Ticker, token.Network)
		}
		addresses := make([]string, 0, len(token.ReceivingAddresses))
		for _, addr := range token.ReceivingAddresses {
			normalized, err := NormalizeAddress(token.Network, addr)
			if err != nil {
				return nil, err
			}
			addresses = append(addresses, normalized)
		}
		if len(addresses) == 0 {
			return nil, fmt.Errorf("token %s/%s has no receiving address", token.Ticker, token.Network)
		}
		token.ReceivingAddresses = addresses
		r.tokens = append(r.tokens, token)
		if token.OKXCoinID != 0 {
			r.byCoin[token.OKXCoinID] = len(r.tokens) - 1
		}
	}
	return r, nil
}

// NormalizeAddress returns the canonical form of an address on a network.
// EVM addresses are checksummed, TRON addresses are re-encoded base58.
func NormalizeAddress(network, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	switch {
	case evmNetworks[strings.ToUpper(network)]:
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("invalid %s address %q", network, addr)
		}
		return common.HexToAddress(addr).Hex(), nil
	case strings.ToUpper(network) == tronNetwork:
		parsed, err := address.Base58ToAddress(addr)
		if err != nil {
			return "", fmt.Errorf("invalid TRON address %q: %w", addr, err)
		}
		return parsed.String(), nil
	default:
		if addr == "" {
			return "", fmt.Errorf("empty %s address", network)
		}
		return addr, nil
	}
}

func (r *Registry) Lookup(ticker, network string) (Token, bool) {
	for _, token := range r.tokens {
		if strings.EqualFold(token.Ticker, ticker) && strings.EqualFold(token.Network, network) {
			return token, true
		}
	}
	return Token{}, false
}

func (r *Registry) ByOKXCoinID(coinID int64) (Token, bool) {
	idx, ok := r.byCoin[coinID]
	if !ok {
		return Token{}, false
	}
	return r.tokens[idx], true
}

// IsReceivingAddress reports whether addr is one of the shop wallets for the token.
func (r *Registry) IsReceivingAddress(token Token, addr string) bool {
	normalized, err := NormalizeAddress(token.Network, addr)
	if err != nil {
		return false
	}
	for _, own := range token.ReceivingAddresses {
		if own == normalized {
			return true
		}
	}
	return false
}

// PaymentAddress is the address shown to payers for the token.
func (r *Registry) PaymentAddress(ticker, network string) (string, bool) {
	token, ok := r.Lookup(ticker, network)
	if !ok {
		return "", false
	}
	return token.ReceivingAddresses[0], true
}

func (r *Registry) Methods() []Method {
	byTicker := map[string]*Method{}
	tickers := []string{}
	for _, token := range r.tokens {
		method, ok := byTicker[token.Ticker]
		if !ok {
			method = &Method{Ticker: token.Ticker}
			byTicker[token.Ticker] = method
			tickers = append(tickers, token.Ticker)
		}
		method.Networks = append(method.Networks, Network{Network: token.Network, Address: token.ReceivingAddresses[0]})
	}
	sort.Strings(tickers)
	methods := make([]Method, 0, len(tickers))
	for _, ticker := range tickers {
		methods = append(methods, *byTicker[ticker])
	}
	return methods
}

func (r *Registry) Tokens() []Token {
	return append([]Token(nil), r.tokens...)
}
