package service

import "errors"

var (
	ErrNotFound                 = errors.New("not found")
	ErrNotAuthorized            = errors.New("reviewer not assigned to order")
	ErrDuplicateVerification    = errors.New("order already verified")
	ErrDuplicateProduct         = errors.New("product already on verification")
	ErrInvalidStatus            = errors.New("invalid status")
	ErrProductNotFound          = errors.New("product not found")
	ErrMalformedQuantityOrPrice = errors.New("malformed quantity or price")
	ErrAlreadyPunched           = errors.New("order already punched")
	ErrDuplicateRequest         = errors.New("duplicate request")
	ErrInvalidOrder             = errors.New("invalid order")
)

// Kind is the machine-checkable name of an error returned by this package.
type Kind string

const (
	KindNotFound                 Kind = "NOT_FOUND"
	KindNotAuthorized            Kind = "NOT_AUTHORIZED"
	KindDuplicateVerification    Kind = "DUPLICATE_VERIFICATION"
	KindDuplicateProduct         Kind = "DUPLICATE_PRODUCT"
	KindInvalidStatus            Kind = "INVALID_STATUS"
	KindProductNotFound          Kind = "PRODUCT_NOT_FOUND"
	KindMalformedQuantityOrPrice Kind = "MALFORMED_QUANTITY_OR_PRICE"
	KindAlreadyPunched           Kind = "ALREADY_PUNCHED"
	KindDuplicateRequest         Kind = "DUPLICATE_REQUEST"
	KindInvalidOrder             Kind = "INVALID_ORDER"
	KindInternal                 Kind = "INTERNAL"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrProductNotFound, KindProductNotFound},
	{ErrNotFound, KindNotFound},
	{ErrNotAuthorized, KindNotAuthorized},
	{ErrDuplicateVerification, KindDuplicateVerification},
	{ErrDuplicateProduct, KindDuplicateProduct},
	{ErrInvalidStatus, KindInvalidStatus},
	{ErrMalformedQuantityOrPrice, KindMalformedQuantityOrPrice},
	{ErrAlreadyPunched, KindAlreadyPunched},
	{ErrDuplicateRequest, KindDuplicateRequest},
	{ErrInvalidOrder, KindInvalidOrder},
}

// KindOf classifies err. Anything not raised by this package is internal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
