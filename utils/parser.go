package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/a402/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validator exposes the shared struct validator so other packages apply the
// same tag rules.
func Validator() *validator.Validate {
	return validate
}

// receiptField maps one canonical receipt field to the raw keys that may
// carry it. Keys are tried in order and the first present key wins.
type receiptField struct {
	name string
	keys []string
}

var receiptFields = []receiptField{
	{"id", []string{"id", "receipt_id"}},
	{"requestNonce", []string{"requestNonce", "request_nonce"}},
	{"payer", []string{"payer"}},
	{"merchant", []string{"merchant", "recipient"}},
	{"amount", []string{"amount"}},
	{"asset", []string{"asset"}},
	{"chain", []string{"chain"}},
	{"txHash", []string{"txHash", "tx_hash"}},
	{"signature", []string{"signature"}},
	{"issuedAt", []string{"issuedAt", "issued_at"}},
}

// mandatoryReceiptFields must be present after alias resolution.
var mandatoryReceiptFields = []string{"payer", "merchant", "amount", "txHash"}

// NormalizeReceipt maps a raw receipt in any accepted encoding onto the
// canonical Receipt. A defaulted issuedAt uses the current time.
func NormalizeReceipt(raw map[string]any) (*types.Receipt, error) {
	return NormalizeReceiptAt(raw, time.Now())
}

// NormalizeReceiptJSON decodes a JSON document and normalizes it.
func NormalizeReceiptJSON(data []byte) (*types.Receipt, error) {
	raw, err := decodeObject(data)
	if err != nil {
		return nil, &types.NormalizationError{Reason: fmt.Sprintf("invalid receipt JSON: %v", err)}
	}
	return NormalizeReceiptAt(raw, time.Now())
}

// NormalizeReceiptAt is NormalizeReceipt with an explicit clock.
func NormalizeReceiptAt(raw map[string]any, now time.Time) (*types.Receipt, error) {
	body, err := unwrapReceipt(raw)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(receiptFields))
	present := make(map[string]bool, len(receiptFields))

	for _, f := range receiptFields {
		for _, key := range f.keys {
			v, ok := body[key]
			if !ok || v == nil {
				continue
			}
			s, err := scalarString(v)
			if err != nil {
				return nil, &types.NormalizationError{Reason: fmt.Sprintf("field %s: %v", key, err)}
			}
			values[f.name] = s
			present[f.name] = true
			break
		}
	}

	var missing []string
	for _, name := range mandatoryReceiptFields {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &types.NormalizationError{MissingFields: missing}
	}

	receipt := &types.Receipt{
		ID:           values["id"],
		RequestNonce: values["requestNonce"],
		Payer:        values["payer"],
		Merchant:     values["merchant"],
		Amount:       values["amount"],
		Asset:        values["asset"],
		Chain:        values["chain"],
		TxHash:       values["txHash"],
		Signature:    values["signature"],
	}

	if present["issuedAt"] {
		issuedAt, err := parseIssuedAt(values["issuedAt"])
		if err != nil {
			return nil, &types.NormalizationError{Reason: fmt.Sprintf("field issuedAt: %v", err)}
		}
		receipt.IssuedAt = issuedAt
	} else {
		receipt.IssuedAt = now.Unix()
		receipt.IssuedAtDefaulted = true
	}

	return receipt, nil
}

// unwrapReceipt returns the receipt object, looking inside a "receipt" key
// that may hold an object, a JSON string or base64-encoded JSON.
func unwrapReceipt(raw map[string]any) (map[string]any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}

	inner, ok := raw["receipt"]
	if !ok || inner == nil {
		return raw, nil
	}

	switch v := inner.(type) {
	case map[string]any:
		return v, nil
	case string:
		obj, err := decodeEmbedded(v)
		if err != nil {
			return nil, &types.NormalizationError{Reason: fmt.Sprintf("wrapped receipt: %v", err)}
		}
		return obj, nil
	default:
		return nil, &types.NormalizationError{Reason: fmt.Sprintf("wrapped receipt has unsupported type %T", inner)}
	}
}

func decodeEmbedded(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		return decodeObject([]byte(s))
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return decodeObject(data)
		}
	}

	return nil, fmt.Errorf("neither JSON nor base64 JSON")
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return obj, nil
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("expected a scalar, got %T", v)
	}
}

func parseIssuedAt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return int64(f), nil
	}

	t, err := ParseFlexibleTime(s)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// ParseChallenge parses and validates a Challenge from JSON
func ParseChallenge(data []byte) (*types.Challenge, error) {
	var c types.Challenge

	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &types.A402Error{
			Code:    types.ErrInvalidChallenge,
			Message: fmt.Sprintf("failed to parse challenge: %v", err),
		}
	}

	if err := ValidateChallenge(&c); err != nil {
		return nil, err
	}

	return &c, nil
}

// ValidateChallenge applies struct tag validation and the challenge invariants.
func ValidateChallenge(c *types.Challenge) error {
	if err := validate.Struct(c); err != nil {
		return &types.A402Error{
			Code:    types.ErrInvalidChallenge,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if err := c.Validate(); err != nil {
		return &types.A402Error{
			Code:    types.ErrInvalidChallenge,
			Message: err.Error(),
		}
	}

	return nil
}

// Helper to parse time fields that might be in different formats
func ParseFlexibleTime(timeStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, timeStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time: %s", timeStr)
}
