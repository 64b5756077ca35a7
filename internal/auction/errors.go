package auction

import "errors"

// Domain-specific errors
var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrAuctionNotActive = errors.New("auction is not accepting bids")
	ErrBidTooLow        = errors.New("bid amount must be higher than the current bid")

	ErrNameRequired        = errors.New("item name is required")
	ErrDescriptionRequired = errors.New("item description is required")
	ErrInvalidStartBid     = errors.New("start bid must be greater than 0")
	ErrInvalidDuration     = errors.New("duration must be greater than 0")
)
