package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"
)

const testKey = "merchant-payment-key"

func TestCanonicalPayloadKeepsKeyOrderAndEscapesSlashes(t *testing.T) {
	body := []byte(`{
		"type": "payment",
		"uuid": "62f88b36",
		"sign": "deadbeef",
		"url": "https://pay.example/invoice/62f88b36",
		"is_final": true
	}`)
	canonical, err := CanonicalPayload(body)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"payment","uuid":"62f88b36","url":"https:\/\/pay.example\/invoice\/62f88b36","is_final":true}`, string(canonical))
}

func TestCanonicalPayloadAcceptsEscapedSlashes(t *testing.T) {
	plain, err := CanonicalPayload([]byte(`{"url":"https://a/b"}`))
	require.NoError(t, err)
	escaped, err := CanonicalPayload([]byte(`{"url":"https:\/\/a\/b"}`))
	require.NoError(t, err)
	assert.Equal(t, plain, escaped)
}

// digests below were produced by the providers' reference signer:
// md5(base64(json.dumps(data, ensure_ascii=False, separators=(",", ":")).replace("/", "\\/")) + key)
const providerPayload = `{"uuid": "62f88b36", "order_id": "ref-1", "status": "paid", "additional_data": "caf\u00e9", "payment_amount_usd": 10.50, "url": "https://pay.example/i/1", "big": 1e16, "small": 0.00001, "neg": -0, "n": null, "ok": true, "list": [1, 2.0, "a\nb\u0001"], "nested": {"z": "\u2028 <&>", "a": "\ud83d\ude00"}, "sign": "16ed3976d5984cce8ea70759e90ad0b2"}`

func TestCanonicalPayloadMatchesProviderSerializer(t *testing.T) {
	canonical, err := CanonicalPayload([]byte(providerPayload))
	require.NoError(t, err)
	expected := `{"uuid":"62f88b36","order_id":"ref-1","status":"paid","additional_data":"café","payment_amount_usd":10.5,` +
		`"url":"https:\/\/pay.example\/i\/1","big":1e+16,"small":1e-05,"neg":0,"n":null,"ok":true,` +
		`"list":[1,2.0,"a\nb\u0001"],"nested":{"z":"` + "\u2028" + ` <&>","a":"😀"}}`
	assert.Equal(t, expected, string(canonical))
}

func TestSignMatchesProviderDigest(t *testing.T) {
	sign, err := Sign([]byte(providerPayload), "k")
	require.NoError(t, err)
	assert.Equal(t, "16ed3976d5984cce8ea70759e90ad0b2", sign)

	ok, err := Verify([]byte(providerPayload), "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyWatcherPush(t *testing.T) {
	body := []byte(`{"tx_hash": "0xwatcher", "amount": 10.001, "ticker": "USDT", "network": "BSC", "decimal": 18, "sign": "cc0388c004b5e15d250977e54544bb15"}`)
	ok, err := Verify(body, "crypto-test-key")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFormatNumber(t *testing.T) {
	cases := map[string]string{
		"18":       "18",
		"-0":       "0",
		"10.50":    "10.5",
		"2.00":     "2.0",
		"0.0001":   "0.0001",
		"0.00001":  "1e-05",
		"1e15":     "1000000000000000.0",
		"1.5E16":   "1.5e+16",
		"-0.0":     "-0.0",
		"1e400":    "Infinity",
		"100.0010": "100.001",
	}
	for raw, expected := range cases {
		assert.Equal(t, expected, formatNumber(raw), raw)
	}
}

func TestCanonicalPayloadRejectsNonObjects(t *testing.T) {
	_, err := CanonicalPayload([]byte(`[1,2]`))
	assert.Error(t, err)
	_, err = CanonicalPayload([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"uuid":"62f88b36","status":"paid_over","payment_amount_usd":"10.05"}`)
	sign, err := Sign(body, testKey)
	require.NoError(t, err)
	signed, err := sjson.SetBytes(body, SignField, sign)
	require.NoError(t, err)

	ok, err := Verify(signed, testKey)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(signed, "other-key")
	assert.NoError(t, err)
	assert.False(t, ok)

	tampered, err := sjson.SetBytes(signed, "payment_amount_usd", "1000")
	require.NoError(t, err)
	ok, err = Verify(tampered, testKey)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = Verify(body, testKey)
	assert.ErrorIs(t, err, ErrMissingSignature)
}
