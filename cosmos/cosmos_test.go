package cosmos

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, seed byte) (*ecdsa.PrivateKey, Secp256k1PubKey) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	priv, err := crypto.ToECDSA(raw)
	require.NoError(t, err)

	pub, err := NewSecp256k1PubKey(crypto.CompressPubkey(&priv.PublicKey))
	require.NoError(t, err)
	return priv, pub
}

func signDigest(t *testing.T, priv *ecdsa.PrivateKey, digest []byte) []byte {
	sig, err := crypto.Sign(digest, priv)
	require.NoError(t, err)
	// drop the recovery id
	return sig[:SignatureSize]
}

func TestAddressCodec(t *testing.T) {
	codec := NewAddressCodec("")
	assert.Equal(t, DefaultBech32Prefix, codec.Prefix())

	raw := CanonicalAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
		0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14}

	human, err := codec.Humanize(raw)
	require.NoError(t, err)
	assert.Contains(t, string(human), "secret1")

	back, err := codec.Canonicalize(human)
	require.NoError(t, err)
	assert.True(t, raw.Equal(back))

	other, err := NewAddressCodec("cosmos").Humanize(raw)
	require.NoError(t, err)
	_, err = codec.Canonicalize(other)
	assert.ErrorIs(t, err, ErrInvalidAddress, "prefix must match")

	last := "q"
	if human[len(human)-1] == 'q' {
		last = "p"
	}
	for _, bad := range []HumanAddr{"", "secret1", "not-bech32", human[:len(human)-1] + HumanAddr(last)} {
		_, err := codec.Canonicalize(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, "address %q", bad)
	}

	_, err = codec.Humanize(nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestCoins(t *testing.T) {
	c, err := NewCoin("uscrt", "0010")
	require.NoError(t, err)
	assert.Equal(t, Coin{Denom: "uscrt", Amount: "10"}, c)

	for _, bad := range []string{"", "-1", "1.5", "abc", "340282366920938463463374607431768211456"} {
		_, err := NewCoin("uscrt", bad)
		assert.ErrorIs(t, err, ErrInvalidCoin, "amount %q", bad)
	}

	a := Coins{{"uscrt", "1"}, {"uatom", "2"}}
	assert.True(t, a.Equal(Coins{{"uscrt", "1"}, {"uatom", "2"}}))
	assert.False(t, a.Equal(Coins{{"uatom", "2"}, {"uscrt", "1"}}), "order matters")
	assert.False(t, a.Equal(Coins{{"uscrt", "1"}}))
	assert.True(t, Coins(nil).Equal(Coins{}))

	out, err := json.Marshal(Coins(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))

	out, err = json.Marshal(Coins{{"uscrt", "1"}})
	require.NoError(t, err)
	assert.Equal(t, `[{"denom":"uscrt","amount":"1"}]`, string(out))
}

func TestSecp256k1PubKey(t *testing.T) {
	priv, pub := testKey(t, 7)
	msg := []byte("sign bytes")

	t.Run("sha256 modes", func(t *testing.T) {
		digest := sha256.Sum256(msg)
		sig := signDigest(t, priv, digest[:])
		require.NoError(t, pub.VerifyBytes(msg, sig, SignModeDirect))
		require.NoError(t, pub.VerifyBytes(msg, sig, SignModeLegacyAminoJSON))
		assert.ErrorIs(t, pub.VerifyBytes(msg, sig, SignModeEIP191), ErrSignatureInvalid)
		assert.ErrorIs(t, pub.VerifyBytes([]byte("other"), sig, SignModeDirect), ErrSignatureInvalid)
		assert.ErrorIs(t, pub.VerifyBytes(msg, sig, SignModeTextual), ErrUnsupportedSignMode)
		assert.ErrorIs(t, pub.VerifyBytes(msg, sig[:63], SignModeDirect), ErrSignatureInvalid)
	})

	t.Run("eip191", func(t *testing.T) {
		sig := signDigest(t, priv, crypto.Keccak256(msg))
		require.NoError(t, pub.VerifyBytes(msg, sig, SignModeEIP191))
		assert.Error(t, pub.VerifyBytes(msg, sig, SignModeDirect))
	})

	t.Run("any round trip", func(t *testing.T) {
		decoded, err := PubKeyFromAnyBytes(pub.Any().Bytes())
		require.NoError(t, err)
		assert.Equal(t, pub, decoded)

		_, err = PubKeyFromAny(Any{TypeURL: TypeURLMultisigLegacyAminoPubKey})
		assert.ErrorIs(t, err, ErrUnsupportedPubKey)
		_, err = PubKeyFromAny(Any{TypeURL: "/cosmos.crypto.ed25519.PubKey"})
		assert.ErrorIs(t, err, ErrUnsupportedPubKey)
	})

	t.Run("address", func(t *testing.T) {
		assert.Len(t, pub.Address(), 20)
		_, other := testKey(t, 8)
		assert.False(t, pub.Address().Equal(other.Address()))
	})

	_, err := NewSecp256k1PubKey(make([]byte, 32))
	assert.ErrorIs(t, err, ErrInvalidPubKey)
}

func TestSignModeJSON(t *testing.T) {
	var info SigInfo
	require.NoError(t, json.Unmarshal([]byte(`{"sign_mode":"SIGN_MODE_LEGACY_AMINO_JSON","callback_sig":null}`), &info))
	assert.Equal(t, SignModeLegacyAminoJSON, info.SignMode)
	assert.False(t, info.HasCallbackSig())

	require.NoError(t, json.Unmarshal([]byte(`{"sign_mode":"191","callback_sig":""}`), &info))
	assert.Equal(t, SignModeEIP191, info.SignMode)
	assert.True(t, info.HasCallbackSig(), "an empty signature is still present")

	assert.Error(t, json.Unmarshal([]byte(`{"sign_mode":"SIGN_MODE_BOGUS"}`), &info))

	out, err := json.Marshal(SignModeDirect)
	require.NoError(t, err)
	assert.Equal(t, `"SIGN_MODE_DIRECT"`, string(out))
}

func TestSignDocRoundTrip(t *testing.T) {
	addrs := NewAddressCodec("")
	_, pub := testKey(t, 1)
	sender := pub.Address()
	contract, err := addrs.Humanize(CanonicalAddr(make([]byte, 20)))
	require.NoError(t, err)
	senderHuman, err := addrs.Humanize(sender)
	require.NoError(t, err)

	packet := Packet{
		Sequence:           4,
		SourcePort:         "transfer",
		SourceChannel:      "channel-0",
		DestinationPort:    "wasm." + string(contract),
		DestinationChannel: "channel-1",
		Data:               []byte(`{"x":1}`),
	}

	msgs := []ChainMessage{
		MsgExecuteContract{
			Sender:    sender,
			Contract:  contract,
			Msg:       []byte("ciphertext"),
			SentFunds: Coins{{"uscrt", "100"}},
		},
		MsgInstantiateContract{
			Sender:    sender,
			CodeID:    3,
			Label:     "label",
			InitMsg:   []byte("init"),
			InitFunds: Coins{{"uscrt", "5"}},
			Admin:     senderHuman,
		},
		MsgMigrateContract{Sender: sender, Contract: contract, CodeID: 9, Msg: []byte("migrate")},
		MsgUpdateAdmin{Sender: sender, Contract: contract, NewAdmin: senderHuman},
		MsgClearAdmin{Sender: sender, Contract: contract},
		MsgRecvPacket{Packet: packet, Signer: senderHuman},
		MsgAcknowledgement{Packet: packet, Acknowledgement: []byte(`{"result":"AQ=="}`), Signer: senderHuman},
		MsgTimeout{Packet: packet, NextSequenceRecv: 5, Signer: senderHuman},
		OtherMsg{TypeURL: "/cosmos.bank.v1beta1.MsgSend"},
	}

	signBytes, err := EncodeSignDoc(msgs, []Secp256k1PubKey{pub}, "secret-4", 12, addrs)
	require.NoError(t, err)

	doc, err := DecodeSignDoc(signBytes, addrs)
	require.NoError(t, err)
	assert.Equal(t, "secret-4", doc.ChainID)
	assert.Equal(t, uint64(12), doc.AccountNumber)
	require.Len(t, doc.Body.Messages, len(msgs))
	for i := range msgs {
		assert.Equal(t, msgs[i], doc.Body.Messages[i], "message %d", i)
	}

	key, ok := doc.AuthInfo.SenderPublicKey(sender)
	require.True(t, ok)
	assert.Equal(t, pub, key)
	_, ok = doc.AuthInfo.SenderPublicKey(CanonicalAddr(make([]byte, 20)))
	assert.False(t, ok)
}

func TestDecodeErrors(t *testing.T) {
	addrs := NewAddressCodec("")

	_, err := DecodeSignDoc([]byte{0xff}, addrs)
	assert.ErrorIs(t, err, ErrProtoDecode)

	// no signer infos
	doc, err := EncodeSignDoc(nil, nil, "c", 1, addrs)
	require.NoError(t, err)
	_, err = DecodeSignDoc(doc, addrs)
	assert.ErrorIs(t, err, ErrProtoDecode)

	// a known type that fails to decode is an error, not OtherMsg
	_, err = DecodeChainMessage(Any{TypeURL: TypeURLMsgExecuteContract, Value: []byte{0x0a, 0x05}}, addrs)
	assert.Error(t, err)

	// wire type mismatch on a known field
	_, err = DecodeChainMessage(Any{TypeURL: TypeURLMsgInstantiateContract, Value: []byte{0x18 | 0x02, 0x00}}, addrs)
	assert.ErrorIs(t, err, ErrProtoDecode)
}

func TestStdSignDoc(t *testing.T) {
	addrs := NewAddressCodec("")
	_, pub := testKey(t, 2)
	sender, err := addrs.Humanize(pub.Address())
	require.NoError(t, err)

	doc := fmt.Sprintf(`{"account_number":"1","chain_id":"secret-4","memo":"","sequence":"0","msgs":[
		{"type":"wasm/MsgExecuteContract","value":{"sender":%q,"contract":%q,"msg":"aGVsbG8=","sent_funds":[{"denom":"uscrt","amount":"07"}]}},
		{"type":"wasm/MsgInstantiateContract","value":{"sender":%q,"code_id":"2","label":"l","init_msg":"aW5pdA==","init_funds":[]}},
		{"type":"cosmos-sdk/MsgSend","value":{}}]}`, sender, sender, sender)

	for name, signBytes := range map[string][]byte{
		"amino":  []byte(doc),
		"eip191": []byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(doc), doc)),
	} {
		t.Run(name, func(t *testing.T) {
			var parsed StdSignDoc
			if name == "amino" {
				parsed, err = DecodeStdSignDoc(signBytes)
			} else {
				parsed, err = DecodeEIP191SignDoc(signBytes)
			}
			require.NoError(t, err)

			msgs, err := parsed.ChainMessages(addrs)
			require.NoError(t, err)
			require.Len(t, msgs, 3)

			exec, ok := msgs[0].(MsgExecuteContract)
			require.True(t, ok)
			assert.Equal(t, []byte("hello"), exec.Msg)
			assert.True(t, exec.Sender.Equal(pub.Address()))
			assert.Equal(t, Coins{{"uscrt", "7"}}, exec.SentFunds)

			inst, ok := msgs[1].(MsgInstantiateContract)
			require.True(t, ok)
			assert.Equal(t, uint64(2), inst.CodeID)
			assert.Equal(t, []byte("init"), inst.InitMsg)

			assert.Equal(t, OtherMsg{TypeURL: "cosmos-sdk/MsgSend"}, msgs[2])
		})
	}

	_, err = DecodeEIP191SignDoc([]byte("\x19Ethereum Signed Message:\n0"))
	assert.ErrorIs(t, err, ErrInvalidSignDoc)

	bad := StdSignDoc{Msgs: []StdMsg{{Type: AminoTypeMsgExecuteContract, Value: json.RawMessage(`{"sender":"bogus"}`)}}}
	_, err = bad.ChainMessages(addrs)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestDenomTrace(t *testing.T) {
	tests := []struct {
		raw      string
		path     string
		base     string
		ibcDenom bool
	}{
		{raw: "uatom", base: "uatom"},
		{raw: "transfer/channel-0/uatom", path: "transfer/channel-0", base: "uatom", ibcDenom: true},
		{raw: "transfer/channel-0/transfer/channel-7/uosmo", path: "transfer/channel-0/transfer/channel-7", base: "uosmo", ibcDenom: true},
		{raw: "gamm/pool/1", base: "gamm/pool/1"},
		{raw: "transfer/channel-0/gamm/pool/1", path: "transfer/channel-0", base: "gamm/pool/1", ibcDenom: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			trace := ParseDenomTrace(tt.raw)
			assert.Equal(t, tt.path, trace.Path)
			assert.Equal(t, tt.base, trace.BaseDenom)
			assert.Equal(t, tt.raw, trace.FullPath())
			if tt.ibcDenom {
				sum := sha256.Sum256([]byte(tt.raw))
				assert.Equal(t, fmt.Sprintf("ibc/%x", sum), trace.IBCDenom())
			} else {
				assert.Equal(t, tt.raw, trace.IBCDenom())
			}
		})
	}

	// token coming home: strip our prefix
	assert.Equal(t, "uscrt", LocalDenom("transfer", "channel-3", "transfer", "channel-9", "transfer/channel-3/uscrt"))
	// foreign token: prefixed with the local channel
	sum := sha256.Sum256([]byte("transfer/channel-9/uatom"))
	assert.Equal(t, fmt.Sprintf("ibc/%x", sum), LocalDenom("transfer", "channel-3", "transfer", "channel-9", "uatom"))
}

func TestIsTransferAckError(t *testing.T) {
	assert.False(t, IsTransferAckError([]byte(`{"result":"AQ=="}`)))
	assert.True(t, IsTransferAckError([]byte(`{"error":"insufficient funds"}`)))
	assert.False(t, IsTransferAckError([]byte(`{"error":""}`)))
	assert.False(t, IsTransferAckError([]byte(`not json`)))
}

func TestParsePacketData(t *testing.T) {
	_, memo, ok := ParsePacketData([]byte(`{"denom":"uatom","amount":"1","sender":"a","receiver":"b","memo":"{}"}`))
	require.True(t, ok)
	assert.Equal(t, "{}", memo)

	_, _, ok = ParsePacketData([]byte(`{"denom":"uatom","amount":"1","sender":"a","receiver":"b"}`))
	assert.False(t, ok, "memo is required")
	_, _, ok = ParsePacketData([]byte(`[]`))
	assert.False(t, ok)
}
