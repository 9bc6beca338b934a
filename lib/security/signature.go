package security

import (
	"bytes"
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const SignField = "sign"

var ErrMissingSignature = errors.New("payload carries no signature")

// CanonicalPayload rebuilds the document without its signature field the way
// the payment providers serialize it before signing: compact, original key
// order, non-ASCII text unescaped, floats in shortest round-trip form and
// every "/" written as "\/".
func CanonicalPayload(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("payload is not valid json")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, fmt.Errorf("payload is not a json object")
	}
	var buf bytes.Buffer
	writeObject(&buf, doc, SignField)
	return bytes.ReplaceAll(buf.Bytes(), []byte("/"), []byte(`\/`)), nil
}

// writeObject keeps the position of the first occurrence of a key and the
// value of its last one.
func writeObject(buf *bytes.Buffer, obj gjson.Result, skip string) {
	keys := []string{}
	values := map[string]gjson.Result{}
	obj.ForEach(func(key, value gjson.Result) bool {
		if skip != "" && key.Str == skip {
			return true
		}
		if _, seen := values[key.Str]; !seen {
			keys = append(keys, key.Str)
		}
		values[key.Str] = value
		return true
	})
	buf.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, key)
		buf.WriteByte(':')
		writeValue(buf, values[key])
	}
	buf.WriteByte('}')
}

func writeValue(buf *bytes.Buffer, value gjson.Result) {
	switch value.Type {
	case gjson.Null:
		buf.WriteString("null")
	case gjson.True:
		buf.WriteString("true")
	case gjson.False:
		buf.WriteString("false")
	case gjson.String:
		writeString(buf, value.Str)
	case gjson.Number:
		buf.WriteString(formatNumber(value.Raw))
	case gjson.JSON:
		if value.IsObject() {
			writeObject(buf, value, "")
			return
		}
		buf.WriteByte('[')
		first := true
		value.ForEach(func(_, item gjson.Result) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			writeValue(buf, item)
			return true
		})
		buf.WriteByte(']')
	}
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, c)
				continue
			}
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}

// formatNumber writes integers as sent and floats the way the providers'
// serializer prints them: 10.50 -> 10.5, 2.00 -> 2.0, 0.00001 -> 1e-05.
func formatNumber(raw string) string {
	if !strings.ContainsAny(raw, ".eE") {
		if raw == "-0" {
			return "0"
		}
		return raw
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil && math.IsInf(f, 0) {
		if f < 0 {
			return "-Infinity"
		}
		return "Infinity"
	}
	if f == 0 {
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	scientific := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(scientific[strings.IndexByte(scientific, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return scientific
	}
	fixed := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(fixed, ".") {
		fixed += ".0"
	}
	return fixed
}

// Sign computes md5(base64(canonical payload) + key) as lowercase hex.
func Sign(body []byte, key string) (string, error) {
	canonical, err := CanonicalPayload(body)
	if err != nil {
		return "", err
	}
	digest := md5.Sum([]byte(base64.StdEncoding.EncodeToString(canonical) + key))
	return hex.EncodeToString(digest[:]), nil
}

// Verify checks the sign field of a webhook payload against key.
func Verify(body []byte, key string) (bool, error) {
	sign := gjson.GetBytes(body, SignField)
	if sign.Type != gjson.String || sign.Str == "" {
		return false, ErrMissingSignature
	}
	expected, err := Sign(body, key)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(sign.Str))) == 1, nil
}
