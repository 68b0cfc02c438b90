package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProtocolVersion is the version of the a402 receipt protocol
const ProtocolVersion = 1

// Challenge is issued by a merchant when a protected resource is requested
// without a receipt. It is immutable once issued.
type Challenge struct {
	// Decimal amount in asset units, base-10, no locale formatting.
	Amount string `json:"amount" validate:"required"`

	// Asset symbol, e.g. "USDC".
	Asset string `json:"asset" validate:"required"`

	// Chain identifier, e.g. "sui-mainnet".
	Chain string `json:"chain" validate:"required"`

	// Address that must receive the funds.
	Recipient string `json:"recipient" validate:"required"`

	// Single-use replay protection key.
	Nonce string `json:"nonce" validate:"required,max=256"`

	// Optional Unix-seconds deadline.
	Expiry *int64 `json:"expiry,omitempty"`

	// Informational only.
	Callback string `json:"callback,omitempty" validate:"omitempty,url"`
}

// ExpiryTime returns the expiry as a time, or nil when the challenge never expires.
func (c *Challenge) ExpiryTime() *time.Time {
	if c.Expiry == nil {
		return nil
	}
	t := time.Unix(*c.Expiry, 0)
	return &t
}

// Validate checks the structural invariants of a challenge.
func (c *Challenge) Validate() error {
	if c.Nonce == "" {
		return fmt.Errorf("challenge.nonce is required")
	}

	if c.Chain == "" {
		return fmt.Errorf("challenge.chain is required")
	}

	if c.Recipient == "" {
		return fmt.Errorf("challenge.recipient is required")
	}

	if c.Asset == "" {
		return fmt.Errorf("challenge.asset is required")
	}

	amount, err := decimal.NewFromString(c.Amount)
	if err != nil {
		return fmt.Errorf("challenge.amount is not a decimal: %q", c.Amount)
	}

	if amount.IsNegative() {
		return fmt.Errorf("challenge.amount cannot be negative")
	}

	return nil
}

// ValidateForIssue applies the issuance-time rules: structural validity and,
// if an expiry is set, an expiry strictly after now.
func (c *Challenge) ValidateForIssue(now time.Time) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Expiry != nil && *c.Expiry <= now.Unix() {
		return fmt.Errorf("challenge.expiry must be in the future")
	}

	return nil
}

// Receipt claims a payment was made against a Challenge.
type Receipt struct {
	ID           string `json:"id"`
	RequestNonce string `json:"requestNonce"`
	Payer        string `json:"payer"`
	Merchant     string `json:"merchant"`
	Amount       string `json:"amount"`
	Asset        string `json:"asset"`
	Chain        string `json:"chain"`
	TxHash       string `json:"txHash"`
	Signature    string `json:"signature"`
	IssuedAt     int64  `json:"issuedAt"`

	// IssuedAtDefaulted is set when the raw receipt carried no issuedAt and
	// the normalizer substituted the current time.
	IssuedAtDefaulted bool `json:"-"`
}

// Network returns the receipt chain as a Network.
func (r *Receipt) Network() Network {
	return Network(r.Chain)
}

// LedgerStatus records whether on-chain confirmation was attempted.
type LedgerStatus string

const (
	LedgerConfirmedStatus   LedgerStatus = "confirmed"
	LedgerUnconfirmedStatus LedgerStatus = "unconfirmed"
	LedgerSkippedStatus     LedgerStatus = "skipped"
)

// Checks is the fixed per-check record of a verification.
type Checks struct {
	AmountMatch     bool `json:"amountMatch"`
	ChainMatch      bool `json:"chainMatch"`
	NonceValid      bool `json:"nonceValid"`
	SignatureValid  bool `json:"signatureValid"`
	LedgerConfirmed bool `json:"ledgerConfirmed"`
}

// VerificationResult contains the result of receipt verification
type VerificationResult struct {
	Valid    bool         `json:"valid"`
	Errors   []string     `json:"errors"`
	Checks   Checks       `json:"checks"`
	Ledger   LedgerStatus `json:"ledger"`
	Warnings []string     `json:"warnings,omitempty"`
	Receipt  *Receipt     `json:"receipt,omitempty"`
}

// NonceRecord is a consumed challenge nonce.
type NonceRecord struct {
	Nonce      string     `json:"nonce"`
	ConsumedAt time.Time  `json:"consumedAt"`
	Expiry     *time.Time `json:"expiry,omitempty"`
}

// ConsumeOutcome is the result of an attempt to consume a nonce.
type ConsumeOutcome int

const (
	ConsumeAccepted ConsumeOutcome = iota
	ConsumeAlreadyConsumed
	ConsumeExpired
)

func (o ConsumeOutcome) String() string {
	switch o {
	case ConsumeAccepted:
		return "accepted"
	case ConsumeAlreadyConsumed:
		return "already_consumed"
	case ConsumeExpired:
		return "expired"
	default:
		return fmt.Sprintf("consume_outcome(%d)", int(o))
	}
}

// LedgerErrorKind distinguishes why a ledger lookup did not confirm.
type LedgerErrorKind string

const (
	LedgerErrNone          LedgerErrorKind = ""
	LedgerErrNotFound      LedgerErrorKind = "not_found"
	LedgerErrMalformed     LedgerErrorKind = "malformed_identifier"
	LedgerErrRPC           LedgerErrorKind = "rpc_failure"
	LedgerErrFailedOnChain LedgerErrorKind = "failed_on_chain"
	LedgerErrUnsupported   LedgerErrorKind = "unsupported_asset"
)

// Retryable reports whether another lookup may produce a different answer.
func (k LedgerErrorKind) Retryable() bool {
	return k == LedgerErrNotFound || k == LedgerErrRPC
}

// ConfirmRequest asks a ledger client to look up one transaction.
type ConfirmRequest struct {
	Chain             Network
	TxHash            string
	Asset             string
	ExpectedSender    string
	ExpectedRecipient string
	ExpectedAmount    string
}

// LedgerConfirmation is what a ledger client observed on chain.
type LedgerConfirmation struct {
	Found             bool            `json:"found"`
	Settled           bool            `json:"settled"`
	Sender            string          `json:"sender,omitempty"`
	Recipient         string          `json:"recipient,omitempty"`
	AmountTransferred decimal.Decimal `json:"amountTransferred"`
	Error             string          `json:"error,omitempty"`
	ErrorKind         LedgerErrorKind `json:"errorKind,omitempty"`
	Confirmations     uint64          `json:"confirmations,omitempty"`
}

// LedgerFailure builds a not-found confirmation carrying an error.
func LedgerFailure(kind LedgerErrorKind, format string, args ...any) *LedgerConfirmation {
	return &LedgerConfirmation{
		Found:     kind == LedgerErrFailedOnChain || kind == LedgerErrUnsupported,
		ErrorKind: kind,
		Error:     fmt.Sprintf(format, args...),
	}
}

// NormalizationError reports a raw receipt missing mandatory fields.
type NormalizationError struct {
	MissingFields []string
	Reason        string
}

func (e *NormalizationError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("receipt is missing required fields: %s", strings.Join(e.MissingFields, ", "))
	}
	return fmt.Sprintf("receipt is malformed: %s", e.Reason)
}

// Error types
type A402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Err     error       `json:"-"`
}

func (e *A402Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *A402Error) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrInvalidReceipt        = "INVALID_RECEIPT"
	ErrInvalidChallenge      = "INVALID_CHALLENGE"
	ErrUnsupportedNetwork    = "UNSUPPORTED_NETWORK"
	ErrUnsupportedAsset      = "UNSUPPORTED_ASSET"
	ErrChallengeNotFound     = "CHALLENGE_NOT_FOUND"
	ErrChallengeExists       = "CHALLENGE_EXISTS"
	ErrNonceStoreUnavailable = "NONCE_STORE_UNAVAILABLE"
	ErrNetworkError          = "NETWORK_ERROR"
	ErrConfigError           = "CONFIG_ERROR"
)

// IsCode reports whether err is an *A402Error with the given code.
func IsCode(err error, code string) bool {
	var e *A402Error
	return errors.As(err, &e) && e.Code == code
}
