package apperror

import "errors"

// Kind describes a stable error category that can be mapped to HTTP status codes.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindBusinessRule Kind = "business_rule"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
)

// Reason is a machine-readable code attached to business rule violations
// so clients can react without parsing Msg.
type Reason string

const (
	ReasonCodeNotFound             Reason = "CODE_NOT_FOUND"
	ReasonCodeInactive             Reason = "CODE_INACTIVE"
	ReasonCodeNotYetValid          Reason = "CODE_NOT_YET_VALID"
	ReasonCodeExpired              Reason = "CODE_EXPIRED"
	ReasonMinimumOrderNotMet       Reason = "MINIMUM_ORDER_NOT_MET"
	ReasonScopeMismatch            Reason = "SCOPE_MISMATCH"
	ReasonUsageLimitExceeded       Reason = "USAGE_LIMIT_EXCEEDED"
	ReasonLocationNotFound         Reason = "LOCATION_NOT_FOUND"
	ReasonExpressNotAvailable      Reason = "EXPRESS_NOT_AVAILABLE"
	ReasonInvalidStatusTransition  Reason = "INVALID_STATUS_TRANSITION"
	ReasonNegativeTotalAnomaly     Reason = "NEGATIVE_TOTAL_ANOMALY"
	ReasonInvalidPaymentTransition Reason = "INVALID_PAYMENT_TRANSITION"
	ReasonProductUnavailable       Reason = "PRODUCT_UNAVAILABLE"
)

// Error is a typed error with a stable Kind and a human-readable message.
// Msg should be safe to return to clients for every kind except internal ones.
type Error struct {
	Kind    Kind
	Msg     string
	Err     error
	Reason  Reason
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithDetail attaches a structured value to the error and returns it for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func NotFound(msg string, err error) error     { return New(KindNotFound, msg, err) }
func Validation(msg string, err error) error   { return New(KindValidation, msg, err) }
func Conflict(msg string, err error) error     { return New(KindConflict, msg, err) }
func Unauthorized(msg string, err error) error { return New(KindUnauthorized, msg, err) }
func Forbidden(msg string, err error) error    { return New(KindForbidden, msg, err) }

// BusinessRule builds a rule violation carrying a reason code.
func BusinessRule(reason Reason, msg string) *Error {
	return &Error{Kind: KindBusinessRule, Msg: msg, Reason: reason}
}

// NotFoundReason is a not-found error that still carries a reason code.
func NotFoundReason(reason Reason, msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg, Reason: reason}
}

// ConflictReason is a state conflict (409) that carries a reason code.
func ConflictReason(reason Reason, msg string) *Error {
	return &Error{Kind: KindConflict, Msg: msg, Reason: reason}
}

func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// ReasonOf returns the reason code of the first *Error in the chain.
func ReasonOf(err error) Reason {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Reason
}

// DetailsOf returns structured details of the first *Error in the chain.
func DetailsOf(err error) map[string]any {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	return e.Details
}
