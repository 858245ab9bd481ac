package core

import "errors"

var (
	ErrBiddingNotActive     = errors.New("bidding is not active")
	ErrBidPriceBelowMinimum = errors.New("bid price below minimum")
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
	ErrInvalidQuantity      = errors.New("bid quantity must be positive")
	ErrBidPriceTooLow       = errors.New("bid price too low to be filled")
	ErrBiddingStillActive   = errors.New("bidding is still active")
	ErrNothingToClaim       = errors.New("nothing to claim")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrInvalidCollaborator  = errors.New("invalid collaborator")
	ErrAmountOverflow       = errors.New("amount overflows mutez")
	ErrInvalidConfig        = errors.New("invalid auction config")
	ErrCorruptState         = errors.New("corrupt auction state")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrBiddingNotActive, "BIDDING_IS_NOT_ACTIVE"},
	{ErrBidPriceBelowMinimum, "BID_PRICE_BELOW_MINIMUM"},
	{ErrInvalidPaymentAmount, "INVALID_PAYMENT_AMOUNT"},
	{ErrInvalidQuantity, "INVALID_QUANTITY"},
	{ErrBidPriceTooLow, "BID_PRICE_TOO_LOW"},
	{ErrBiddingStillActive, "BIDDING_IS_STILL_ACTIVE"},
	{ErrNothingToClaim, "NOTHING_TO_CLAIM"},
	{ErrNotAuthorized, "NOT_AUTHORIZED"},
	{ErrInvalidCollaborator, "INVALID_COLLABORATOR"},
	{ErrAmountOverflow, "AMOUNT_OVERFLOW"},
	{ErrInvalidConfig, "INVALID_CONFIG"},
	{ErrCorruptState, "CORRUPT_STATE"},
}

// ErrorCode returns the stable wire code for an auction error, or "INTERNAL" for anything else.
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL"
}
