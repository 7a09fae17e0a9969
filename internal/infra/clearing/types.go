package clearing

import (
	"encoding/json"
	"fmt"
)

// Wire protocol: JSON frames over a persistent duplex connection.
//
//	request:  {"req": [id, method, params, unixTimestamp], "sig": ["0x..."]}
//	response: {"res": [id, method, data, unixTimestamp], "sig": ["0x..."]}
//
// Authentication is a sub-protocol of three methods; everything else is a
// generic correlated request/response pair.
const (
	MethodAuthRequest   = "auth_request"
	MethodAuthChallenge = "auth_challenge"
	MethodAuthVerify    = "auth_verify"
	MethodError         = "error"

	MethodCreateSession = "create_app_session"
	MethodCloseSession  = "close_app_session"
	MethodGetChannels   = "get_channels"
)

// frame is the raw envelope of every message in either direction.
type frame struct {
	Req json.RawMessage `json:"req,omitempty"`
	Res json.RawMessage `json:"res,omitempty"`
	Sig []string        `json:"sig,omitempty"`
}

// Request is the decoded [id, method, params, timestamp] tuple.
type Request struct {
	ID        uint64
	Method    string
	Params    json.RawMessage
	Timestamp uint64
}

// Response is the decoded [id, method, data, timestamp] tuple.
type Response struct {
	ID        uint64
	Method    string
	Data      json.RawMessage
	Timestamp uint64
	Sig       []string
}

// Allowance grants the session key a spending bound for one asset.
type Allowance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// authRequestParams opens the handshake: caller identity, throwaway session
// key, requested scope and an expiry timestamp.
type authRequestParams struct {
	Address     string      `json:"address"`
	SessionKey  string      `json:"session_key"`
	AppName     string      `json:"app_name"`
	Allowances  []Allowance `json:"allowances"`
	Expire      string      `json:"expire"`
	Scope       string      `json:"scope"`
	Application string      `json:"application"`
}

// AuthChallenge carries the server nonce to be covered by the structured
// signature.
type AuthChallenge struct {
	ChallengeMessage string `json:"challenge_message"`
}

// authVerifyParams answers the challenge; the frame signature carries the
// EIP-712 policy signature rather than a session-key signature.
type authVerifyParams struct {
	Challenge string `json:"challenge"`
}

// AuthResult reports the handshake outcome and the issued token.
type AuthResult struct {
	Address    string `json:"address"`
	SessionKey string `json:"session_key"`
	Success    bool   `json:"success"`
	JwtToken   string `json:"jwt_token"`
}

// errorData is the explicit error payload of a method "error" response.
type errorData struct {
	Error string `json:"error"`
}

// encodePayload renders the positional request tuple. The exact bytes are
// what gets signed, so encoding happens once and is reused for the frame.
func encodePayload(id uint64, method string, params interface{}, ts uint64) ([]byte, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	payload, err := json.Marshal([]json.RawMessage{
		mustMarshal(id),
		mustMarshal(method),
		rawParams,
		mustMarshal(ts),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return payload, nil
}

// encodeFrame wraps a signed request payload into the wire envelope.
func encodeFrame(payload []byte, sigs []string) ([]byte, error) {
	return json.Marshal(frame{Req: payload, Sig: sigs})
}

// decodeResponse parses one inbound frame into its positional parts. Frames
// that are not "res" envelopes are rejected here, once, at the boundary.
func decodeResponse(data []byte) (*Response, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Res == nil {
		return nil, fmt.Errorf("frame has no res envelope")
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(f.Res, &parts); err != nil {
		return nil, fmt.Errorf("malformed res tuple: %w", err)
	}
	if len(parts) < 4 {
		return nil, fmt.Errorf("res tuple has %d elements, want 4", len(parts))
	}

	var resp Response
	if err := json.Unmarshal(parts[0], &resp.ID); err != nil {
		return nil, fmt.Errorf("malformed res id: %w", err)
	}
	if err := json.Unmarshal(parts[1], &resp.Method); err != nil {
		return nil, fmt.Errorf("malformed res method: %w", err)
	}
	resp.Data = parts[2]
	if err := json.Unmarshal(parts[3], &resp.Timestamp); err != nil {
		return nil, fmt.Errorf("malformed res timestamp: %w", err)
	}
	resp.Sig = f.Sig
	return &resp, nil
}

// ErrorMessage extracts the explicit error field from an error response.
func (r *Response) ErrorMessage() string {
	if r.Method != MethodError {
		return ""
	}
	var e errorData
	if err := json.Unmarshal(r.Data, &e); err != nil || e.Error == "" {
		return "unspecified clearing error"
	}
	return e.Error
}

func mustMarshal(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
