package validation

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ruteri/secret-compute-enclave/contractkey"
	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/kms"
	"github.com/ruteri/secret-compute-enclave/secretmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrs        = cosmos.NewAddressCodec("")
	testCodeHash = contractkey.CodeHash(cryptoutils.SHA256([]byte("contract code")))
)

func hexCodeHash() [HexHashSize]byte {
	var h [HexHashSize]byte
	hex.Encode(h[:], testCodeHash[:])
	return h
}

type fixture struct {
	kh      *kms.KeyHierarchy
	codec   *secretmsg.Codec
	parser  *Parser
	user    cryptoutils.KeyPair
	nodePub secretmsg.PublicKey
}

func newFixture(t *testing.T) *fixture {
	var genesis, current kms.Seed
	for i := range genesis {
		genesis[i] = byte(i)
		current[i] = byte(3*i + 1)
	}
	kh, err := kms.NewKeyHierarchyFromSeeds(kms.SeedsHolder[kms.Seed]{Genesis: genesis, Current: current})
	require.NoError(t, err)

	reg, err := kh.NodeRegistration()
	require.NoError(t, err)

	codec := secretmsg.NewCodec(kh)
	return &fixture{
		kh:      kh,
		codec:   codec,
		parser:  NewParser(codec, nil),
		user:    cryptoutils.NewKeyPairFromSecret(cryptoutils.NewAESKeyFromSlice(bytes.Repeat([]byte{7}, 32))),
		nodePub: reg.IOExchangePubkey.Current,
	}
}

// seal encrypts plaintext the way a wallet would.
func (f *fixture) seal(t *testing.T, nonce byte, plaintext []byte) secretmsg.SecretMessage {
	msg, err := secretmsg.SealForNode(f.nodePub, f.user, secretmsg.Nonce{nonce}, plaintext)
	require.NoError(t, err)
	return msg
}

func (f *fixture) userPub() secretmsg.PublicKey {
	return f.user.PublicKey()
}

func TestParseExecute(t *testing.T) {
	f := newFixture(t)
	hash := hexCodeHash()

	t.Run("encrypted", func(t *testing.T) {
		plaintext := append(hash[:], []byte(`{"transfer":{"to":"alice","amount":"5"}}`)...)
		msg := f.seal(t, 1, plaintext)

		parsed, err := f.parser.ParseMessage(msg.Bytes(), HandleTypeExecute)
		require.NoError(t, err)
		assert.Equal(t, plaintext, parsed.DecryptedMsg)
		assert.Equal(t, msg, parsed.SecretMsg)
		assert.True(t, parsed.WasMsgEncrypted)
		assert.True(t, parsed.ShouldEncryptOutput)
		assert.True(t, parsed.ShouldValidateSigInfo)
		assert.True(t, parsed.ShouldValidateInput)
		assert.Nil(t, parsed.DataForValidation)
	})

	for name, raw := range map[string][]byte{
		"short plaintext": []byte(`{"a":1}`),
		"long json":       []byte(`{"transfer":{"recipient":"secret1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq","amount":"100"}}`),
	} {
		t.Run(name, func(t *testing.T) {
			parsed, err := f.parser.ParseMessage(raw, HandleTypeExecute)
			require.NoError(t, err)
			assert.Equal(t, raw, parsed.DecryptedMsg)
			assert.False(t, parsed.WasMsgEncrypted)
			assert.False(t, parsed.ShouldEncryptOutput)
			assert.True(t, parsed.ShouldValidateSigInfo)
			assert.True(t, parsed.SecretMsg.IsPlaintextSentinel())
			assert.Equal(t, raw, parsed.SecretMsg.Msg)
		})
	}

	t.Run("tampered ciphertext is fatal", func(t *testing.T) {
		raw := f.seal(t, 2, []byte("hello")).Bytes()
		raw[len(raw)-1] ^= 0x01
		_, err := f.parser.ParseMessage(raw, HandleTypeExecute)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("opaque bytes must decrypt", func(t *testing.T) {
		raw := bytes.Repeat([]byte{0xab}, 100)
		_, err := f.parser.ParseMessage(raw, HandleTypeExecute)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	_, err := f.parser.ParseMessage([]byte(`{}`), HandleType(99))
	assert.ErrorIs(t, err, ErrParse)
}

func replyEnvelope(header secretmsg.SecretMessage, reply any) []byte {
	b, _ := json.Marshal(reply)
	return header.WithMsg(b).Bytes()
}

func TestParsePlaintextReply(t *testing.T) {
	f := newFixture(t)
	header := f.seal(t, 3, nil)

	raw := replyEnvelope(header, map[string]any{
		"id": []byte("7"),
		"result": map[string]any{"ok": map[string]any{
			"events": []Event{
				{Type: "wasm-foo", Attributes: []Attribute{{"contract_address", "x"}, {"bar", "1"}}},
				{Type: "wasm-routing", Attributes: []Attribute{{"code_id", "3"}}},
				{Type: "message", Attributes: []Attribute{{"module", "bank"}}},
			},
			"data": nil,
		}},
		"was_orig_msg_encrypted": true,
		"is_encrypted":           false,
	})

	parsed, err := f.parser.ParseMessage(raw, HandleTypeReply)
	require.NoError(t, err)
	assert.False(t, parsed.ShouldValidateSigInfo)
	assert.False(t, parsed.ShouldValidateInput)
	assert.False(t, parsed.WasMsgEncrypted)
	assert.True(t, parsed.ShouldEncryptOutput)
	assert.Nil(t, parsed.DataForValidation)
	assert.Equal(t, header.Nonce, parsed.SecretMsg.Nonce)

	var decrypted DecryptedReply
	require.NoError(t, json.Unmarshal(parsed.DecryptedMsg, &decrypted))
	assert.Equal(t, uint64(7), decrypted.ID)
	require.NotNil(t, decrypted.Result.Ok)
	assert.Len(t, decrypted.Result.Ok.Events, 3)

	var redacted Reply
	require.NoError(t, json.Unmarshal(parsed.SecretMsg.Msg, &redacted))
	require.NotNil(t, redacted.Result.Ok)
	assert.Equal(t, []Event{{Type: "wasm-foo", Attributes: []Attribute{{"bar", "1"}}}}, redacted.Result.Ok.Events)

	t.Run("rejects", func(t *testing.T) {
		for name, reply := range map[string]any{
			"routed id":   map[string]any{"id": append(hashMarker(1).Bytes(), '7'), "result": map[string]any{"error": "x"}},
			"non decimal": map[string]any{"id": []byte("7a"), "result": map[string]any{"error": "x"}},
			"both results": map[string]any{"id": []byte("7"), "result": map[string]any{
				"error": "x", "ok": map[string]any{"events": []Event{}},
			}},
		} {
			t.Run(name, func(t *testing.T) {
				_, err := f.parser.ParseMessage(replyEnvelope(header, reply), HandleTypeReply)
				assert.ErrorIs(t, err, ErrParse)
			})
		}

		_, err := f.parser.ParseMessage([]byte(`{}`), HandleTypeReply)
		assert.ErrorIs(t, err, ErrParse)
	})
}

func hashMarker(id uint64) RoutingMarker {
	return RoutingMarker{SubMsgID: id, CodeHash: hexCodeHash()}
}

func TestParseEncryptedReply(t *testing.T) {
	f := newFixture(t)
	header := f.seal(t, 4, nil)
	hash := hexCodeHash()
	marker := hashMarker(11)

	encrypt := func(pt []byte) []byte {
		ct, err := f.codec.EncryptBytes(header.Nonce, header.UserPublicKey, pt)
		require.NoError(t, err)
		return ct
	}
	encID := encrypt(EncodeReplyID(hash, []RoutingMarker{marker}, 9))

	t.Run("ok", func(t *testing.T) {
		data := encrypt(append(hash[:], base64.StdEncoding.EncodeToString([]byte("result-data"))...))
		raw := replyEnvelope(header, Reply{
			ID:          encID,
			Result:      SubMsgResult{Ok: &SubMsgResponse{Events: []Event{}, Data: data}},
			IsEncrypted: true,
		})

		parsed, err := f.parser.ParseMessage(raw, HandleTypeReply)
		require.NoError(t, err)
		assert.True(t, parsed.ShouldValidateSigInfo)
		assert.False(t, parsed.ShouldValidateInput)
		assert.True(t, parsed.WasMsgEncrypted)
		assert.True(t, parsed.ShouldEncryptOutput)
		assert.Equal(t, append(hash[:], marker.Bytes()...), parsed.DataForValidation)
		signed, err := ReplySignBytes(encID, SubMsgResult{Ok: &SubMsgResponse{Data: data}})
		require.NoError(t, err)
		assert.Equal(t, header.WithMsg(signed), parsed.SecretMsg)

		var decrypted DecryptedReply
		require.NoError(t, json.Unmarshal(parsed.DecryptedMsg, &decrypted))
		assert.Equal(t, uint64(9), decrypted.ID)
		require.NotNil(t, decrypted.Result.Ok)
		assert.Equal(t, []byte("result-data"), decrypted.Result.Ok.Data)
	})

	t.Run("error", func(t *testing.T) {
		errMsg := base64.StdEncoding.EncodeToString(encrypt(append(hash[:], "boom"...)))
		raw := replyEnvelope(header, Reply{
			ID:          encID,
			Result:      SubMsgResult{Err: &errMsg},
			IsEncrypted: true,
		})

		parsed, err := f.parser.ParseMessage(raw, HandleTypeReply)
		require.NoError(t, err)

		var decrypted DecryptedReply
		require.NoError(t, json.Unmarshal(parsed.DecryptedMsg, &decrypted))
		require.NotNil(t, decrypted.Result.Err)
		assert.Equal(t, "boom", *decrypted.Result.Err)
	})

	t.Run("tampered id", func(t *testing.T) {
		bad := append([]byte{}, encID...)
		bad[0] ^= 0x01
		errMsg := "x"
		raw := replyEnvelope(header, Reply{ID: bad, Result: SubMsgResult{Err: &errMsg}, IsEncrypted: true})
		_, err := f.parser.ParseMessage(raw, HandleTypeReply)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("other envelope", func(t *testing.T) {
		errMsg := "x"
		other := f.seal(t, 5, nil)
		raw := replyEnvelope(other, Reply{ID: encID, Result: SubMsgResult{Err: &errMsg}, IsEncrypted: true})
		_, err := f.parser.ParseMessage(raw, HandleTypeReply)
		assert.ErrorIs(t, err, ErrDecryption)
	})
}

func TestRedactEvents(t *testing.T) {
	errMsg := "failed"
	assert.Equal(t, SubMsgResult{Err: &errMsg}, RedactEvents(SubMsgResult{Err: &errMsg}))

	got := RedactEvents(SubMsgResult{Ok: &SubMsgResponse{
		Events: []Event{
			{Type: "wasm", Attributes: []Attribute{{"contract_address", "a"}, {"action", "swap"}}},
			{Type: "wasm-only-routing", Attributes: []Attribute{{"contract_address", "a"}, {"code_id", "1"}}},
			{Type: "transfer", Attributes: []Attribute{{"amount", "1"}}},
		},
		Data: []byte("d"),
	}})
	require.NotNil(t, got.Ok)
	assert.Equal(t, []Event{{Type: "wasm", Attributes: []Attribute{{"action", "swap"}}}}, got.Ok.Events)
	assert.Equal(t, []byte("d"), got.Ok.Data)
}

func TestParseIbcPacketReceive(t *testing.T) {
	f := newFixture(t)
	hash := hexCodeHash()

	packetMsg := func(data []byte) cosmos.IbcPacketReceiveMsg {
		return cosmos.IbcPacketReceiveMsg{
			Packet: cosmos.IbcPacket{
				Data:     data,
				Src:      cosmos.IbcEndpoint{PortID: "wasm.src", ChannelID: "channel-1"},
				Dest:     cosmos.IbcEndpoint{PortID: "wasm.dst", ChannelID: "channel-2"},
				Sequence: 5,
			},
			Relayer: "relayer",
		}
	}

	t.Run("encrypted data", func(t *testing.T) {
		payload := f.seal(t, 6, append(hash[:], []byte(`{"ping":{}}`)...))
		raw, err := json.Marshal(packetMsg(payload.Bytes()))
		require.NoError(t, err)

		parsed, err := f.parser.ParseMessage(raw, HandleTypeIbcPacketReceive)
		require.NoError(t, err)
		assert.True(t, parsed.WasMsgEncrypted)
		assert.True(t, parsed.ShouldEncryptOutput)
		assert.True(t, parsed.ShouldValidateInput)
		assert.False(t, parsed.ShouldValidateSigInfo)
		assert.Equal(t, payload, parsed.SecretMsg)

		validated, err := ValidateMsg(parsed.DecryptedMsg, testCodeHash, nil, HandleTypeIbcPacketReceive)
		require.NoError(t, err)
		var got cosmos.IbcPacketReceiveMsg
		require.NoError(t, json.Unmarshal(validated.Msg, &got))
		assert.Equal(t, []byte(`{"ping":{}}`), got.Packet.Data)
		assert.Equal(t, uint64(5), got.Packet.Sequence)
	})

	t.Run("plaintext data", func(t *testing.T) {
		raw, err := json.Marshal(packetMsg([]byte(`{"x":1}`)))
		require.NoError(t, err)

		parsed, err := f.parser.ParseMessage(raw, HandleTypeIbcPacketReceive)
		require.NoError(t, err)
		assert.False(t, parsed.WasMsgEncrypted)
		assert.True(t, parsed.ShouldValidateInput)
		assert.True(t, parsed.SecretMsg.IsPlaintextSentinel())
		assert.Equal(t, raw, parsed.SecretMsg.Msg)
	})

	_, err := f.parser.ParseMessage([]byte("not json"), HandleTypeIbcPacketReceive)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseIbcLifecycle(t *testing.T) {
	f := newFixture(t)
	raw := []byte(`{"channel":{}}`)

	tests := []struct {
		handleType    HandleType
		validateInput bool
	}{
		{HandleTypeIbcChannelOpen, false},
		{HandleTypeIbcChannelConnect, false},
		{HandleTypeIbcChannelClose, false},
		{HandleTypeIbcPacketAck, true},
		{HandleTypeIbcPacketTimeout, true},
		{HandleTypeIbcWasmHooksIncomingTransfer, true},
		{HandleTypeIbcWasmHooksOutgoingTransferAck, true},
		{HandleTypeIbcWasmHooksOutgoingTransferTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.handleType.String(), func(t *testing.T) {
			parsed, err := f.parser.ParseMessage(raw, tt.handleType)
			require.NoError(t, err)
			assert.Equal(t, tt.validateInput, parsed.ShouldValidateInput)
			assert.False(t, parsed.ShouldValidateSigInfo)
			assert.False(t, parsed.WasMsgEncrypted)
			assert.False(t, parsed.ShouldEncryptOutput)
			assert.Equal(t, raw, parsed.DecryptedMsg)
		})
	}
}
