package domain

import (
	"encoding/json"
	"fmt"
)

// Wire discriminators carried in the "type" field of every frame.
const (
	TypePrivate   = "private"
	TypeList      = "list"
	TypePing      = "ping"
	TypeBroadcast = "broadcast"
	TypeMatch     = "match"

	TypeConnected = "connected"
	TypeSystem    = "system"
	TypeError     = "error"
	TypePong      = "pong"
	TypeMatched   = "matched"
)

// ClientRequest is one decoded inbound frame. Exactly one concrete
// request type is produced per frame.
type ClientRequest interface {
	RequestType() string
}

type PrivateRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type ListRequest struct{}

type PingRequest struct{}

type BroadcastRequest struct {
	Message string `json:"message"`
}

// MatchRequest asks to be paired with another waiting client. It is also the
// payload written to the match stream.
type MatchRequest struct {
	UserID    string `json:"user_id"`
	GameType  string `json:"game_type,omitempty"`
	AgeIndex  int    `json:"age_index,omitempty"`
	SexIndex  int    `json:"sex_index,omitempty"`
	Location  string `json:"location,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (PrivateRequest) RequestType() string   { return TypePrivate }
func (ListRequest) RequestType() string      { return TypeList }
func (PingRequest) RequestType() string      { return TypePing }
func (BroadcastRequest) RequestType() string { return TypeBroadcast }
func (MatchRequest) RequestType() string     { return TypeMatch }

// Bucket is the waiting pool a request competes in.
func (r MatchRequest) Bucket() string {
	if r.GameType == "" {
		return "default"
	}
	return r.GameType
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeRequest parses a text frame into its request variant.
func DecodeRequest(data []byte) (ClientRequest, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	switch env.Type {
	case TypePrivate:
		var req PrivateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if req.To == "" {
			return nil, fmt.Errorf("%w: private message without recipient", ErrDecode)
		}
		return req, nil
	case TypeList:
		return ListRequest{}, nil
	case TypePing:
		return PingRequest{}, nil
	case TypeBroadcast:
		var req BroadcastRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return req, nil
	case TypeMatch:
		var req MatchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return req, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrDecode)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrDecode, env.Type)
	}
}

// ServerEvent is one outbound frame. Each event marshals itself with its
// "type" discriminator.
type ServerEvent interface {
	EventType() string
}

// ClientInfo is one entry of the presence snapshot.
type ClientInfo struct {
	ID          string `json:"id"`
	ConnectedAt int64  `json:"connected_at"`
}

// ConnectedEvent is sent once, as the first frame of a session.
type ConnectedEvent struct {
	ClientID    string `json:"client_id"`
	OnlineCount int    `json:"online_count"`
}

type PrivateEvent struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type ListEvent struct {
	Clients []ClientInfo `json:"clients"`
}

type SystemEvent struct {
	Message string `json:"message"`
}

// ErrorEvent is the WS-safe rendering of a request-level failure.
type ErrorEvent struct {
	Message string `json:"message"`
}

type PongEvent struct{}

type BroadcastEvent struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// MatchedEvent is pushed to both sides of a pairing.
type MatchedEvent struct {
	MatchID   string `json:"match_id"`
	Partner   string `json:"partner"`
	GameType  string `json:"game_type"`
	Timestamp int64  `json:"timestamp"`
}

func (ConnectedEvent) EventType() string { return TypeConnected }
func (PrivateEvent) EventType() string   { return TypePrivate }
func (ListEvent) EventType() string      { return TypeList }
func (SystemEvent) EventType() string    { return TypeSystem }
func (ErrorEvent) EventType() string     { return TypeError }
func (PongEvent) EventType() string      { return TypePong }
func (BroadcastEvent) EventType() string { return TypeBroadcast }
func (MatchedEvent) EventType() string   { return TypeMatched }

func (e ConnectedEvent) MarshalJSON() ([]byte, error) {
	type alias ConnectedEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeConnected, alias(e)})
}

func (e PrivateEvent) MarshalJSON() ([]byte, error) {
	type alias PrivateEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypePrivate, alias(e)})
}

func (e ListEvent) MarshalJSON() ([]byte, error) {
	type alias ListEvent
	if e.Clients == nil {
		e.Clients = []ClientInfo{}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeList, alias(e)})
}

func (e SystemEvent) MarshalJSON() ([]byte, error) {
	type alias SystemEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeSystem, alias(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeError, alias(e)})
}

func (PongEvent) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"pong"}`), nil
}

func (e BroadcastEvent) MarshalJSON() ([]byte, error) {
	type alias BroadcastEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeBroadcast, alias(e)})
}

func (e MatchedEvent) MarshalJSON() ([]byte, error) {
	type alias MatchedEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeMatched, alias(e)})
}

// EncodeEvent renders an event as a single text frame.
func EncodeEvent(ev ServerEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent is the inverse of EncodeEvent. The server never reads its own
// events; clients and tests do.
func DecodeEvent(data []byte) (ServerEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var (
		ev  ServerEvent
		err error
	)
	switch env.Type {
	case TypeConnected:
		var e ConnectedEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case TypePrivate:
		var e PrivateEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeList:
		var e ListEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeSystem:
		var e SystemEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case TypePong:
		ev = PongEvent{}
	case TypeBroadcast:
		var e BroadcastEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeMatched:
		var e MatchedEvent
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrDecode, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return ev, nil
}
