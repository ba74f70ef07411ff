package enclave

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ruteri/secret-compute-enclave/contractkey"
	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/validation"
)

type BlockInfo struct {
	Height  uint64 `json:"height"`
	Time    uint64 `json:"time,string"`
	ChainID string `json:"chain_id"`
}

type MessageInfo struct {
	Sender cosmos.HumanAddr `json:"sender"`
	Funds  cosmos.Coins     `json:"funds"`
}

type ContractInfo struct {
	Address  cosmos.HumanAddr `json:"address"`
	CodeHash string           `json:"code_hash,omitempty"`
}

// Env is the host's description of a call. None of it is trusted until
// the provenance checks pass.
type Env struct {
	Block       BlockInfo            `json:"block"`
	Message     MessageInfo          `json:"message"`
	Contract    ContractInfo         `json:"contract"`
	ContractKey *contractkey.EnvKeys `json:"contract_key,omitempty"`
}

// ParseEnv decodes the env JSON passed with every call.
func ParseEnv(raw []byte) (Env, error) {
	var env Env
	if err := json.Unmarshal(raw, &env); err != nil {
		return Env{}, fmt.Errorf("%w: %w: %v", ErrInvalidEnv, validation.ErrParse, err)
	}
	if env.Contract.Address == "" {
		return Env{}, fmt.Errorf("%w: %w: missing contract address", ErrInvalidEnv, validation.ErrParse)
	}
	return env, nil
}

// engineEnv is the env the contract sees: no key material, and the code
// hash of the code actually being run.
func (e Env) engineEnv(codeHash contractkey.CodeHash) ([]byte, error) {
	e.ContractKey = nil
	e.Contract.CodeHash = hex.EncodeToString(codeHash[:])
	return json.Marshal(e)
}

func (e Env) envKeys() (contractkey.EnvKeys, error) {
	if e.ContractKey == nil {
		return contractkey.EnvKeys{}, fmt.Errorf("%w: no contract key in env", contractkey.ErrMissingOrMalformed)
	}
	return *e.ContractKey, nil
}
