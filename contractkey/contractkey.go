package contractkey

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/kms"
)

const (
	IDSize    = cryptoutils.HashSize
	KeySize   = 2 * IDSize
	ProofSize = cryptoutils.HashSize
)

var (
	ErrMissingOrMalformed = errors.New("contract key missing or malformed")
	ErrAuthentication     = errors.New("contract key authentication failed")
)

// CodeHash is SHA-256 of the contract wasm code.
type CodeHash [cryptoutils.HashSize]byte

// Key is sender_id || contract_id.
type Key [KeySize]byte

func (k Key) SenderID() [IDSize]byte {
	var id [IDSize]byte
	copy(id[:], k[:IDSize])
	return id
}

func (k Key) ContractID() [IDSize]byte {
	var id [IDSize]byte
	copy(id[:], k[IDSize:])
	return id
}

func (k Key) Base64() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// Extract decodes a base64 contract key. Anything other than exactly 64
// bytes is rejected.
func Extract(b64 string) (Key, error) {
	if b64 == "" {
		return Key{}, ErrMissingOrMalformed
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(raw) != KeySize {
		return Key{}, ErrMissingOrMalformed
	}

	var k Key
	copy(k[:], raw)
	return k, nil
}

// GenerateSenderID is SHA256(sender || u64_be(height)).
func GenerateSenderID(sender cosmos.CanonicalAddr, height uint64) [IDSize]byte {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	return cryptoutils.SHA256(sender, h[:])
}

// GenerateContractID is HMAC-SHA256 keyed with ikm.DeriveKey(sender_id) over
// sender_id || code_hash || contract_address.
func GenerateContractID(ikm cryptoutils.AESKey, senderID [IDSize]byte, codeHash CodeHash, contract cosmos.CanonicalAddr) [IDSize]byte {
	authKey := ikm.DeriveKey(senderID[:])

	data := make([]byte, 0, 2*IDSize+len(contract))
	data = append(data, senderID[:]...)
	data = append(data, codeHash[:]...)
	data = append(data, contract...)
	return authKey.SignSHA256(data)
}

// KeySource is the part of the key hierarchy contract keys depend on.
type KeySource interface {
	ConsensusStateIKM() (kms.SeedsHolder[cryptoutils.AESKey], error)
	ContractKeyProofSecret() (cryptoutils.AESKey, error)
}

// Manager generates and authenticates contract keys. Keys are always bound
// to the genesis state IKM so they survive seed rotation.
type Manager struct {
	keys  KeySource
	addrs cosmos.AddressCodec
	log   *slog.Logger
}

func NewManager(keys KeySource, addrs cosmos.AddressCodec, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{keys: keys, addrs: addrs, log: log}
}

// Generate derives the key of a contract being instantiated by sender at
// height.
func (m *Manager) Generate(sender cosmos.HumanAddr, height uint64, codeHash CodeHash, contract cosmos.HumanAddr) (Key, error) {
	senderAddr, err := m.addrs.Canonicalize(sender)
	if err != nil {
		m.log.Warn("cannot canonicalize contract key sender", "err", err)
		return Key{}, ErrAuthentication
	}
	contractAddr, err := m.addrs.Canonicalize(contract)
	if err != nil {
		m.log.Warn("cannot canonicalize contract address", "err", err)
		return Key{}, ErrAuthentication
	}

	ikm, err := m.keys.ConsensusStateIKM()
	if err != nil {
		return Key{}, err
	}

	senderID := GenerateSenderID(senderAddr, height)
	contractID := GenerateContractID(ikm.Genesis, senderID, codeHash, contractAddr)

	var k Key
	copy(k[:IDSize], senderID[:])
	copy(k[IDSize:], contractID[:])
	return k, nil
}

// Validate recomputes the contract id from the key's sender id and compares
// it in constant time.
func (m *Manager) Validate(key Key, contract cosmos.HumanAddr, codeHash CodeHash) bool {
	return m.validate(key, contract, codeHash) == nil
}

func (m *Manager) validate(key Key, contract cosmos.HumanAddr, codeHash CodeHash) error {
	contractAddr, err := m.addrs.Canonicalize(contract)
	if err != nil {
		return ErrAuthentication
	}

	ikm, err := m.keys.ConsensusStateIKM()
	if err != nil {
		return err
	}

	expected := GenerateContractID(ikm.Genesis, key.SenderID(), codeHash, contractAddr)
	got := key.ContractID()
	if !hmac.Equal(expected[:], got[:]) {
		return ErrAuthentication
	}
	return nil
}

// GenerateProof binds a migrated contract's new key to its original one:
// SHA256(contract || code_hash || og_key || new_key || proof_secret).
func (m *Manager) GenerateProof(contract cosmos.HumanAddr, codeHash CodeHash, ogKey, newKey Key) ([ProofSize]byte, error) {
	contractAddr, err := m.addrs.Canonicalize(contract)
	if err != nil {
		return [ProofSize]byte{}, ErrAuthentication
	}
	secret, err := m.keys.ContractKeyProofSecret()
	if err != nil {
		return [ProofSize]byte{}, err
	}
	return cryptoutils.SHA256(contractAddr, codeHash[:], ogKey[:], newKey[:], secret.Bytes()), nil
}

// EnvKeys is the contract key material the host passes with a call.
// Original is set once a contract has been migrated.
type EnvKeys struct {
	Key      string       `json:"key"`
	Original *OriginalKey `json:"original,omitempty"`
}

type OriginalKey struct {
	Key   string `json:"key"`
	Proof string `json:"proof"`
}

// ValidateEnvKeys authenticates the current key and, for migrated contracts,
// the proof linking it to the original key. It returns the key that scopes
// contract state, which is always the original one.
func (m *Manager) ValidateEnvKeys(env EnvKeys, contract cosmos.HumanAddr, codeHash CodeHash) (Key, error) {
	current, err := Extract(env.Key)
	if err != nil {
		return Key{}, err
	}
	if err := m.validate(current, contract, codeHash); err != nil {
		if errors.Is(err, ErrAuthentication) {
			m.log.Warn("contract key authentication failed", "contract", contract)
		}
		return Key{}, err
	}

	if env.Original == nil {
		return current, nil
	}

	og, err := Extract(env.Original.Key)
	if err != nil {
		return Key{}, err
	}
	sentProof, err := base64.StdEncoding.DecodeString(env.Original.Proof)
	if err != nil || len(sentProof) != ProofSize {
		return Key{}, fmt.Errorf("%w: proof", ErrMissingOrMalformed)
	}

	proof, err := m.GenerateProof(contract, codeHash, og, current)
	if err != nil {
		return Key{}, err
	}
	if !hmac.Equal(proof[:], sentProof) {
		m.log.Warn("contract key proof mismatch for migrated contract", "contract", contract)
		return Key{}, ErrAuthentication
	}
	return og, nil
}
