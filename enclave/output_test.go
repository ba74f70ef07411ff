package enclave

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/secretmsg"
	"github.com/ruteri/secret-compute-enclave/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSigner struct {
	signed [][]byte
}

func (s *recordingSigner) CallbackSignature(sender cosmos.CanonicalAddr, msg []byte, funds cosmos.Coins) ([]byte, error) {
	s.signed = append(s.signed, append([]byte{}, msg...))
	return []byte("sig"), nil
}

func testEncoder(t *testing.T) (*outputEncoder, *recordingSigner) {
	key := cryptoutils.NewAESKeyFromSlice(make([]byte, 32))
	signer := &recordingSigner{}
	enc := &outputEncoder{
		key:      key,
		header:   secretmsg.SecretMessage{Nonce: secretmsg.Nonce{1}, UserPublicKey: secretmsg.PublicKey{2}},
		contract: cosmos.CanonicalAddr{9},
		signer:   signer,
	}
	copy(enc.codeHash[:], "aa")
	return enc, signer
}

func openB64(t *testing.T, key cryptoutils.AESKey, b64 string) string {
	ct, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	pt, err := key.Decrypt(ct)
	require.NoError(t, err)
	return string(pt)
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `{"b":1,"a":{"d":2,"c":3}}`, want: `{"a":{"c":3,"d":2},"b":1}`},
		{in: `{"n":12345678901234567890}`, want: `{"n":12345678901234567890}`},
		{in: `"<tag>"`, want: `"<tag>"`},
		{in: ` [1, 2] `, want: `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := canonicalJSON(json.RawMessage(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	_, err := canonicalJSON(json.RawMessage(`{`))
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestEncryptLegacyResponse(t *testing.T) {
	enc, signer := testEncoder(t)
	out, err := enc.encrypt([]byte(`{"Ok":{"messages":[` +
		`{"wasm":{"execute":{"contract_addr":"x","callback_code_hash":"bb","msg":"e30=","send":[]}}},` +
		`{"bank":{"send":{"to_address":"y","amount":[]}}}],` +
		`"log":[{"key":"k","value":"v"},{"key":"p","value":"q","encrypted":false}],"data":null}}`))
	require.NoError(t, err)

	var result struct {
		Ok struct {
			Messages []map[string]json.RawMessage `json:"messages"`
			Log      []outputAttribute            `json:"log"`
			Data     json.RawMessage              `json:"data"`
		}
	}
	require.NoError(t, json.Unmarshal(out, &result))
	require.Len(t, result.Ok.Messages, 2)

	var wasm struct {
		Wasm struct {
			Execute struct {
				Msg         []byte `json:"msg"`
				CallbackSig []byte `json:"callback_sig"`
			} `json:"execute"`
		} `json:"wasm"`
	}
	raw, err := json.Marshal(result.Ok.Messages[0])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &wasm))

	sent, err := secretmsg.FromSlice(wasm.Wasm.Execute.Msg)
	require.NoError(t, err)
	assert.Equal(t, enc.header.Nonce, sent.Nonce)
	pt, err := enc.key.Decrypt(sent.Msg)
	require.NoError(t, err)
	assert.Equal(t, "bb{}", string(pt), "legacy messages carry no routing marker")
	assert.Equal(t, []byte("sig"), wasm.Wasm.Execute.CallbackSig)
	require.Len(t, signer.signed, 1)
	assert.Equal(t, sent.Msg, signer.signed[0])

	assert.Contains(t, string(raw), `"wasm"`)
	assert.NotContains(t, string(result.Ok.Messages[0]["wasm"]), "was_msg_encrypted")
	assert.JSONEq(t, `{"send":{"to_address":"y","amount":[]}}`, string(result.Ok.Messages[1]["bank"]))

	require.Len(t, result.Ok.Log, 2)
	assert.Equal(t, "k", openB64(t, enc.key, result.Ok.Log[0].Key))
	assert.Equal(t, "v", openB64(t, enc.key, result.Ok.Log[0].Value))
	assert.Equal(t, "p", result.Ok.Log[1].Key)
	assert.Equal(t, "null", string(result.Ok.Data))
}

func TestEncryptSubMessageOutput(t *testing.T) {
	enc, signer := testEncoder(t)
	var recipient [validation.HexHashSize]byte
	copy(recipient[:], "cc")
	enc.replyParams = []validation.ReplyParams{{RecipientCodeHash: recipient, SubMsgID: 3}}
	enc.sender = cosmos.CanonicalAddr{4}

	t.Run("error", func(t *testing.T) {
		out, err := enc.encrypt([]byte(`{"Err":{"generic_err":{"msg":"boom"}}}`))
		require.NoError(t, err)

		var result struct {
			Err struct {
				GenericErr struct {
					Msg string `json:"msg"`
				} `json:"generic_err"`
			}
			InternalMsgID           []byte `json:"internal_msg_id"`
			InternalReplyEnclaveSig []byte `json:"internal_reply_enclave_sig"`
		}
		require.NoError(t, json.Unmarshal(out, &result))
		assert.Equal(t, string(recipient[:])+`{"generic_err":{"msg":"boom"}}`, openB64(t, enc.key, result.Err.GenericErr.Msg))

		id, err := enc.key.Decrypt(result.InternalMsgID)
		require.NoError(t, err)
		assert.Equal(t, validation.EncodeReplyID(recipient, nil, 3), id)
		assert.Equal(t, []byte("sig"), result.InternalReplyEnclaveSig)

		signed, err := validation.ReplySignBytes(result.InternalMsgID, validation.SubMsgResult{Err: &result.Err.GenericErr.Msg})
		require.NoError(t, err)
		require.NotEmpty(t, signer.signed)
		assert.Equal(t, signed, signer.signed[len(signer.signed)-1], "the error is signed with the id")
	})

	t.Run("no data", func(t *testing.T) {
		out, err := enc.encrypt([]byte(`{"Ok":{"messages":[],"attributes":[],"events":[]}}`))
		require.NoError(t, err)

		var result struct {
			Ok struct {
				Data []byte `json:"data"`
			}
		}
		require.NoError(t, json.Unmarshal(out, &result))
		var info InternalReplyInfo
		require.NoError(t, json.Unmarshal(result.Ok.Data, &info))
		assert.Nil(t, info.Data)
		assert.NotEmpty(t, info.InternalMsgID)

		signed, err := validation.ReplySignBytes(info.InternalMsgID, validation.SubMsgResult{Ok: &validation.SubMsgResponse{}})
		require.NoError(t, err)
		assert.Equal(t, signed, signer.signed[len(signer.signed)-1])
	})

	t.Run("data", func(t *testing.T) {
		out, err := enc.encrypt([]byte(`{"Ok":{"messages":[],"attributes":[],"events":[],"data":"cG9uZw=="}}`))
		require.NoError(t, err)

		var result struct {
			Ok struct {
				Data []byte `json:"data"`
			}
		}
		require.NoError(t, json.Unmarshal(out, &result))
		var info InternalReplyInfo
		require.NoError(t, json.Unmarshal(result.Ok.Data, &info))
		require.NotNil(t, info.Data)

		signed, err := validation.ReplySignBytes(info.InternalMsgID, validation.SubMsgResult{Ok: &validation.SubMsgResponse{Data: info.Data}})
		require.NoError(t, err)
		assert.Equal(t, signed, signer.signed[len(signer.signed)-1], "the data is signed with the id")
	})
}

func TestEncryptRequiresHeader(t *testing.T) {
	enc, _ := testEncoder(t)
	enc.header = secretmsg.Plaintext(nil)

	_, err := enc.encrypt([]byte(`{"Ok":"plain"}`))
	assert.ErrorIs(t, err, validation.ErrValidation)
}

func TestPlaintextOutput(t *testing.T) {
	enc, signer := testEncoder(t)
	enc.header = secretmsg.Plaintext(nil)

	out, err := enc.plaintext([]byte(`{"Ok":"plain"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Ok":"plain"}`, string(out))

	out, err = enc.plaintext([]byte(`{"Ok":{"messages":[{"id":0,"msg":{"wasm":{"instantiate":{"code_id":1,"code_hash":"bb","msg":"e30=","funds":[],"label":"l"}}},"reply_on":"always"}],` +
		`"attributes":[],"events":[{"type":"t","attributes":[{"key":"k","value":"v"}]}]}}`))
	require.NoError(t, err)
	require.Len(t, signer.signed, 1)
	assert.Equal(t, []byte("{}"), signer.signed[0])

	var result struct {
		Ok struct {
			Messages []map[string]json.RawMessage `json:"messages"`
			Events   []outputEvent                `json:"events"`
		}
	}
	require.NoError(t, json.Unmarshal(out, &result))
	assert.NotContains(t, result.Ok.Messages[0], "was_msg_encrypted")
	assert.False(t, result.Ok.Events[0].Attributes[0].isEncrypted())

	_, err = enc.plaintext([]byte(`{"Other":1}`))
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestEngineCallInput(t *testing.T) {
	in, err := engineCallInput([]byte(`{"block":{}}`), []byte(`{"do":{}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"env":{"block":{}},"msg":{"do":{}}}`, string(in))

	in, err = engineCallInput([]byte(`{}`), []byte("not json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"env":{},"msg":"not json"}`, string(in))
}
