package secretmsg

import (
	"bytes"
	"testing"

	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHierarchy(t *testing.T) *kms.KeyHierarchy {
	var genesis, current kms.Seed
	for i := range genesis {
		genesis[i] = byte(i + 1)
		current[i] = byte(0x80 + i)
	}
	kh, err := kms.NewKeyHierarchyFromSeeds(kms.SeedsHolder[kms.Seed]{Genesis: genesis, Current: current})
	require.NoError(t, err)
	return kh
}

func testUser(t *testing.T) cryptoutils.KeyPair {
	return cryptoutils.NewKeyPairFromSecret(cryptoutils.NewAESKeyFromSlice(bytes.Repeat([]byte{7}, 32)))
}

func nodeIOPublicKey(t *testing.T, kh *kms.KeyHierarchy) PublicKey {
	reg, err := kh.NodeRegistration()
	require.NoError(t, err)
	return reg.IOExchangePubkey.Current
}

func TestFromSlice(t *testing.T) {
	_, err := FromSlice(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrTooShort)

	empty, err := FromSlice(make([]byte, HeaderSize))
	require.NoError(t, err)
	assert.Empty(t, empty.Msg)
	assert.True(t, empty.IsPlaintextSentinel())

	raw := make([]byte, HeaderSize+3)
	for i := range raw {
		raw[i] = byte(i)
	}
	m, err := FromSlice(raw)
	require.NoError(t, err)
	assert.Equal(t, byte(0), m.Nonce[0])
	assert.Equal(t, byte(32), m.UserPublicKey[0])
	assert.Equal(t, []byte{64, 65, 66}, m.Msg)
	assert.Equal(t, raw, m.Bytes())
	assert.False(t, m.IsPlaintextSentinel())
}

func TestFromBase64(t *testing.T) {
	m, err := FromBase64("aGVsbG8=", Nonce{1}, PublicKey{2})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), m.Msg)
	assert.Equal(t, Nonce{1}, m.Nonce)

	_, err = FromBase64("not base64!", Nonce{}, PublicKey{})
	assert.ErrorIs(t, err, ErrInvalidB64)
}

func TestCodecRoundTrip(t *testing.T) {
	kh := testHierarchy(t)
	codec := NewCodec(kh)
	user := testUser(t)
	nonce := Nonce{0xaa, 0xbb}

	testCases := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"json", []byte(`{"transfer":{"to":"addr1","amount":"5"}}`)},
		{"binary", bytes.Repeat([]byte{0, 1, 2}, 100)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := codec.Encode(nonce, user.PublicKey(), tc.plaintext)
			require.NoError(t, err)
			require.Len(t, m.Bytes(), HeaderSize+len(tc.plaintext)+cryptoutils.SIVOverhead)

			pt, err := codec.Decrypt(m)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, pt)

			// The user derives the same key from the node's public key
			pt, err = OpenFromNode(nodeIOPublicKey(t, kh), user, nonce, m.Msg)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, pt)
		})
	}
}

func TestClientToNode(t *testing.T) {
	kh := testHierarchy(t)
	codec := NewCodec(kh)
	user := testUser(t)

	m, err := SealForNode(nodeIOPublicKey(t, kh), user, Nonce{9}, []byte("input"))
	require.NoError(t, err)

	outcome, err := codec.TryDecrypt(m.Bytes())
	require.NoError(t, err)
	assert.Equal(t, Decrypted, outcome.Kind)
	assert.True(t, outcome.WasEncrypted())
	assert.Equal(t, []byte("input"), outcome.Plaintext)
	assert.Equal(t, m.Nonce, outcome.Message.Nonce)
	assert.Equal(t, m.Msg, outcome.Message.Msg)
}

func TestCodecTamperDetection(t *testing.T) {
	codec := NewCodec(testHierarchy(t))
	user := testUser(t)

	m, err := codec.Encode(Nonce{1}, user.PublicKey(), []byte("do not touch"))
	require.NoError(t, err)
	wire := m.Bytes()

	for i := range wire {
		tampered := append([]byte{}, wire...)
		tampered[i] ^= 0x01
		_, err := codec.TryDecrypt(tampered)
		require.Error(t, err, "byte %d", i)
	}

	// A different nonce is a different key
	other := m
	other.Nonce = Nonce{2}
	_, err = codec.Decrypt(other)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestTryDecryptOutcomes(t *testing.T) {
	codec := NewCodec(testHierarchy(t))

	t.Run("short input falls back to plaintext", func(t *testing.T) {
		raw := []byte(`{"a":1}`)
		outcome, err := codec.TryDecrypt(raw)
		require.NoError(t, err)
		assert.Equal(t, PlaintextFallback, outcome.Kind)
		assert.Equal(t, raw, outcome.Plaintext)
		assert.True(t, outcome.Message.IsPlaintextSentinel())
	})

	t.Run("framed garbage is fatal", func(t *testing.T) {
		raw := bytes.Repeat([]byte("x"), HeaderSize+40)
		_, err := codec.TryDecrypt(raw)
		require.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("low order user key is fatal", func(t *testing.T) {
		raw := make([]byte, HeaderSize+cryptoutils.SIVOverhead)
		raw[0] = 1
		_, err := codec.TryDecrypt(raw)
		require.ErrorIs(t, err, ErrDecryption)
	})
}

func TestEncryptInPlace(t *testing.T) {
	codec := NewCodec(testHierarchy(t))
	user := testUser(t)

	m := SecretMessage{Nonce: Nonce{3}, UserPublicKey: user.PublicKey(), Msg: []byte("query")}
	require.NoError(t, codec.EncryptInPlace(&m))
	assert.NotEqual(t, []byte("query"), m.Msg)

	pt, err := codec.Decrypt(m)
	require.NoError(t, err)
	assert.Equal(t, []byte("query"), pt)
}

func TestCodecUninitialized(t *testing.T) {
	codec := NewCodec(kms.NewKeyHierarchy(nil, nil))
	_, err := codec.Encode(Nonce{}, PublicKey{1}, []byte("x"))
	assert.ErrorIs(t, err, ErrKeyNotReady)
	assert.ErrorIs(t, err, kms.ErrUninitialized)

	_, err = codec.TryDecrypt(make([]byte, 100))
	assert.ErrorIs(t, err, kms.ErrUninitialized)
}
