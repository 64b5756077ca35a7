package protocol

// Type identifies a protocol message variant on the wire.
type Type string

const (
	// Client to Server message types
	TypeLogin              Type = "login"
	TypeLogout             Type = "logout"
	TypeAuctionListRequest Type = "auction_list_request"
	TypePlaceBid           Type = "place_bid"
	TypeCreateAuction      Type = "create_auction"
	TypeKeepAlive          Type = "keep_alive"
	TypePeerInfoRequest    Type = "peer_info_request"

	// Server to Client message types
	TypeLoginResponse       Type = "login_response"
	TypeAuctionListResponse Type = "auction_list_response"
	TypeAuctionUpdate       Type = "auction_update"
	TypeUserStatusUpdate    Type = "user_status_update"
	TypePeerInfoResponse    Type = "peer_info_response"

	// Client to Client (peer link) message types
	TypeDirectMessage Type = "direct_message"
)

// ClientToServer reports whether the server accepts this type from a client.
func (t Type) ClientToServer() bool {
	switch t {
	case TypeLogin, TypeLogout, TypeAuctionListRequest, TypePlaceBid,
		TypeCreateAuction, TypeKeepAlive, TypePeerInfoRequest:
		return true
	}
	return false
}

// ServerToClient reports whether this type is only ever pushed by the server.
// Receiving one of these from a client is a protocol violation.
func (t Type) ServerToClient() bool {
	switch t {
	case TypeLoginResponse, TypeAuctionListResponse, TypeAuctionUpdate,
		TypeUserStatusUpdate, TypePeerInfoResponse:
		return true
	}
	return false
}

// PeerToPeer reports whether this type travels on direct peer links only.
func (t Type) PeerToPeer() bool {
	return t == TypeDirectMessage
}
