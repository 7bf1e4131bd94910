package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindPeeksTypeOnly(t *testing.T) {
	k, err := Kind([]byte(`{"type":"call_request","callee_id":"bob","offer":{"sdp":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeCallRequest, k)

	// A frame with no type field is not an error, just an empty kind.
	k, err = Kind([]byte(`{"id":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "", k)

	_, err = Kind([]byte(`not json`))
	assert.Error(t, err)
}

func TestCallRequestOfferIsOpaque(t *testing.T) {
	// The relay must forward the offer byte-for-byte without understanding it.
	raw := []byte(`{"type":"call_request","callee_id":"bob","from":"alice","name":"Alice","offer":{"type":"offer","sdp":"v=0\r\n"}}`)

	var req CallRequest
	require.NoError(t, json.Unmarshal(raw, &req))
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0\r\n"}`, string(req.Offer))

	out, err := json.Marshal(IncomingCall{
		Type: TypeIncomingCall, Offer: req.Offer, From: req.From, Name: req.Name,
	})
	require.NoError(t, err)

	var fwd IncomingCall
	require.NoError(t, json.Unmarshal(out, &fwd))
	assert.JSONEq(t, string(req.Offer), string(fwd.Offer))
}

func TestOptionalIdentityFieldsOmitted(t *testing.T) {
	out, err := json.Marshal(MissedCall{Type: TypeMissedCall, From: "alice", Name: "Alice"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "email")
	assert.NotContains(t, string(out), "avatar")
}
