package validation

import (
	"bytes"
	"testing"

	"github.com/ruteri/secret-compute-enclave/contractkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMsg(t *testing.T) {
	hash := hexCodeHash()
	body := []byte(`{"do":{}}`)
	prefixed := func(parts ...[]byte) []byte {
		return bytes.Join(append([][]byte{hash[:]}, parts...), nil)
	}

	t.Run("code hash prefix", func(t *testing.T) {
		got, err := ValidateMsg(prefixed(body), testCodeHash, nil, HandleTypeExecute)
		require.NoError(t, err)
		assert.Equal(t, body, got.Msg)
		assert.Empty(t, got.ReplyParams)
	})

	t.Run("uppercase hex", func(t *testing.T) {
		upper := bytes.ToUpper(hash[:])
		got, err := ValidateMsg(append(upper, body...), testCodeHash, nil, HandleTypeExecute)
		require.NoError(t, err)
		assert.Equal(t, body, got.Msg)
	})

	t.Run("routing markers", func(t *testing.T) {
		first, second := hashMarker(3), hashMarker(4)
		got, err := ValidateMsg(prefixed(first.Bytes(), second.Bytes(), body), testCodeHash, nil, HandleTypeExecute)
		require.NoError(t, err)
		assert.Equal(t, body, got.Msg)
		assert.Equal(t, []ReplyParams{
			{RecipientCodeHash: first.CodeHash, SubMsgID: 3},
			{RecipientCodeHash: second.CodeHash, SubMsgID: 4},
		}, got.ReplyParams)
	})

	t.Run("data for validation", func(t *testing.T) {
		marker := hashMarker(8)
		reply := []byte(`{"id":9,"result":{"ok":{"events":[],"data":null}}}`)
		got, err := ValidateMsg(reply, testCodeHash, prefixed(marker.Bytes()), HandleTypeReply)
		require.NoError(t, err)
		assert.Equal(t, reply, got.Msg)
		assert.Equal(t, []ReplyParams{{RecipientCodeHash: marker.CodeHash, SubMsgID: 8}}, got.ReplyParams)

		_, err = ValidateMsg(reply, testCodeHash, prefixed([]byte("junk")), HandleTypeReply)
		assert.ErrorIs(t, err, ErrValidation)

		other := contractkey.CodeHash{1}
		_, err = ValidateMsg(reply, other, prefixed(), HandleTypeReply)
		assert.ErrorIs(t, err, ErrValidation)
	})

	rejects := map[string]struct {
		msg        []byte
		handleType HandleType
	}{
		"too short":           {msg: hash[:63], handleType: HandleTypeExecute},
		"not hex":             {msg: append(bytes.Repeat([]byte("z"), HexHashSize), body...), handleType: HandleTypeExecute},
		"other code":          {msg: append(bytes.Repeat([]byte("0"), HexHashSize), body...), handleType: HandleTypeExecute},
		"truncated marker":    {msg: prefixed(hashMarker(1).Bytes()[:30]), handleType: HandleTypeExecute},
		"encrypted ibc ack":   {msg: prefixed(body), handleType: HandleTypeIbcPacketAck},
		"encrypted channel":   {msg: prefixed(body), handleType: HandleTypeIbcChannelOpen},
		"packet data no hash": {msg: []byte(`{"packet":{"data":"e30="},"relayer":"r"}`), handleType: HandleTypeIbcPacketReceive},
	}
	for name, tt := range rejects {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateMsg(tt.msg, testCodeHash, nil, tt.handleType)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}
