package protocol

import "errors"

// Protocol errors
var (
	ErrTypeRequired       = errors.New("message type is required")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedEnvelope  = errors.New("malformed message envelope")
	ErrMalformedPayload   = errors.New("malformed message payload")

	ErrUsernameRequired  = errors.New("username is required")
	ErrAuctionIDRequired = errors.New("auction_id is required")
	ErrTargetIDRequired  = errors.New("target user id is required")
	ErrReceiverRequired  = errors.New("receiver id is required")
	ErrInvalidAmount     = errors.New("bid amount must be greater than 0")
	ErrInvalidPeerPort   = errors.New("peer port must be greater than 0")
)
