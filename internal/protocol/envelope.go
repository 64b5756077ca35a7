package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire form of every protocol message: the variant tag, the
// sender identity, a wall-clock creation timestamp in milliseconds and the
// variant-specific payload. Envelopes are immutable once constructed.
type Envelope struct {
	Type      Type            `json:"type"`
	SenderID  string          `json:"sender_id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps a payload struct for the wire, stamping it with the
// sender identity and the current time.
func NewEnvelope(t Type, senderID string, payload any) (*Envelope, error) {
	env := &Envelope{
		Type:      t,
		SenderID:  senderID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// Decode parses a single wire frame into an Envelope. Each frame holds
// exactly one envelope, so a failed decode never corrupts the framing of the
// connection; the caller can keep reading or close cleanly.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, ErrTypeRequired
	}
	return &env, nil
}

// DecodePayload maps the envelope's tag to its concrete payload struct. An
// unknown tag or an unparseable payload fails the decode without touching
// the connection.
func (e *Envelope) DecodePayload() (any, error) {
	switch e.Type {
	case TypeLogin:
		return decodeAs[Login](e)
	case TypeLoginResponse:
		return decodeAs[LoginResponse](e)
	case TypeLogout:
		return decodeAs[Logout](e)
	case TypeAuctionListRequest:
		return decodeAs[AuctionListRequest](e)
	case TypeAuctionListResponse:
		return decodeAs[AuctionListResponse](e)
	case TypeCreateAuction:
		return decodeAs[CreateAuction](e)
	case TypeAuctionUpdate:
		return decodeAs[AuctionUpdate](e)
	case TypePlaceBid:
		return decodeAs[PlaceBid](e)
	case TypeKeepAlive:
		return decodeAs[KeepAlive](e)
	case TypeUserStatusUpdate:
		return decodeAs[UserStatusUpdate](e)
	case TypePeerInfoRequest:
		return decodeAs[PeerInfoRequest](e)
	case TypePeerInfoResponse:
		return decodeAs[PeerInfoResponse](e)
	case TypeDirectMessage:
		return decodeAs[DirectMessage](e)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, e.Type)
	}
}

// PayloadAs decodes the payload into a specific struct when the caller
// already knows, from the envelope's tag, what it expects.
func PayloadAs[T any](e *Envelope) (T, error) {
	return decodeAs[T](e)
}

func decodeAs[T any](e *Envelope) (T, error) {
	var payload T
	if len(e.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w (%s): %v", ErrMalformedPayload, e.Type, err)
	}
	return payload, nil
}
