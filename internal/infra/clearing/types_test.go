package clearing

import (
	"strings"
	"testing"
)

func TestEncodePayload_Positional(t *testing.T) {
	payload, err := encodePayload(42, MethodGetChannels, []struct{}{{}}, 1700000000000)
	if err != nil {
		t.Fatalf("encodePayload failed: %v", err)
	}
	expected := `[42,"get_channels",[{}],1700000000000]`
	if string(payload) != expected {
		t.Errorf("Expected %s, got %s", expected, payload)
	}

	empty, err := encodePayload(7, MethodGetChannels, []struct{}{}, 1700000000001)
	if err != nil {
		t.Fatalf("encodePayload failed: %v", err)
	}
	if string(empty) != `[7,"get_channels",[],1700000000001]` {
		t.Errorf("Empty params encoded as %s", empty)
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Run("Valid Frame", func(t *testing.T) {
		raw := `{"res":[7,"auth_challenge",{"challenge_message":"abc"},1700000000000],"sig":["0x01"]}`
		resp, err := decodeResponse([]byte(raw))
		if err != nil {
			t.Fatalf("decodeResponse failed: %v", err)
		}
		if resp.ID != 7 || resp.Method != MethodAuthChallenge {
			t.Errorf("Bad tuple: id=%d method=%s", resp.ID, resp.Method)
		}
		if len(resp.Sig) != 1 || resp.Sig[0] != "0x01" {
			t.Errorf("Signature lost: %v", resp.Sig)
		}
	})

	t.Run("Missing Res Envelope", func(t *testing.T) {
		if _, err := decodeResponse([]byte(`{"req":[1,"x",{},2]}`)); err == nil {
			t.Error("Expected error for frame without res")
		}
	})

	t.Run("Short Tuple", func(t *testing.T) {
		if _, err := decodeResponse([]byte(`{"res":[1,"x"]}`)); err == nil {
			t.Error("Expected error for truncated tuple")
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		if _, err := decodeResponse([]byte(`not json`)); err == nil {
			t.Error("Expected error for malformed frame")
		}
	})
}

func TestResponse_ErrorMessage(t *testing.T) {
	t.Run("Error Method", func(t *testing.T) {
		resp, err := decodeResponse([]byte(`{"res":[1,"error",{"error":"bad signature"},2]}`))
		if err != nil {
			t.Fatalf("decodeResponse failed: %v", err)
		}
		if !strings.Contains(resp.ErrorMessage(), "bad signature") {
			t.Errorf("Expected error text, got %q", resp.ErrorMessage())
		}
	})

	t.Run("Non-Error Method", func(t *testing.T) {
		resp, _ := decodeResponse([]byte(`{"res":[1,"get_channels",[],2]}`))
		if resp.ErrorMessage() != "" {
			t.Errorf("Expected empty message, got %q", resp.ErrorMessage())
		}
	})

	t.Run("Empty Error Payload", func(t *testing.T) {
		resp, _ := decodeResponse([]byte(`{"res":[1,"error",{},2]}`))
		if resp.ErrorMessage() == "" {
			t.Error("Expected a fallback message")
		}
	})
}
