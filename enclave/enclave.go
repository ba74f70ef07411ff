package enclave

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/secret-compute-enclave/contractkey"
	"github.com/ruteri/secret-compute-enclave/cosmos"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/interfaces"
	"github.com/ruteri/secret-compute-enclave/kms"
	"github.com/ruteri/secret-compute-enclave/secretmsg"
	"github.com/ruteri/secret-compute-enclave/validation"
)

// Metrics receives pipeline events. metrics.Pipeline implements it.
type Metrics interface {
	MessageParsed(handleType string, encrypted bool)
	VerificationFailed(stage string)
	ContractKeyFailed()
	ObserveDuration(operation string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) MessageParsed(string, bool)            {}
func (noopMetrics) VerificationFailed(string)             {}
func (noopMetrics) ContractKeyFailed()                    {}
func (noopMetrics) ObserveDuration(string, time.Duration) {}

type Opts struct {
	Keys    *kms.KeyHierarchy
	Engine  interfaces.Engine
	Addrs   cosmos.AddressCodec
	Metrics Metrics
	Log     *slog.Logger
}

// Enclave is the trusted entry point for contract calls.
type Enclave struct {
	keys         *kms.KeyHierarchy
	codec        *secretmsg.Codec
	parser       *validation.Parser
	verifier     *validation.Verifier
	contractKeys *contractkey.Manager
	addrs        cosmos.AddressCodec
	engine       interfaces.Engine
	metrics      Metrics
	log          *slog.Logger
}

func New(opts Opts) *Enclave {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	codec := secretmsg.NewCodec(opts.Keys)
	return &Enclave{
		keys:         opts.Keys,
		codec:        codec,
		parser:       validation.NewParser(codec, log),
		verifier:     validation.NewVerifier(opts.Keys, opts.Addrs, log),
		contractKeys: contractkey.NewManager(opts.Keys, opts.Addrs, log),
		addrs:        opts.Addrs,
		engine:       opts.Engine,
		metrics:      m,
		log:          log,
	}
}

type InitRequest struct {
	Code    []byte
	Env     []byte
	Msg     []byte
	SigInfo cosmos.SigInfo
}

type InitResult struct {
	Output      []byte
	ContractKey contractkey.Key
}

type HandleRequest struct {
	Code       []byte
	Env        []byte
	Msg        []byte
	SigInfo    cosmos.SigInfo
	HandleType validation.HandleType
}

type HandleResult struct {
	Output []byte
}

type QueryRequest struct {
	Code []byte
	Env  []byte
	Msg  []byte
}

type QueryResult struct {
	Output []byte
}

// MigrateRequest moves a contract to Code. Admin is the contract's admin as
// recorded on chain and PreviousCodeHash the hash of the code it runs now.
type MigrateRequest struct {
	Code             []byte
	Env              []byte
	Msg              []byte
	SigInfo          cosmos.SigInfo
	Admin            cosmos.HumanAddr
	PreviousCodeHash contractkey.CodeHash
}

// MigrateResult carries the key the migrated contract is addressed with
// from now on, and the proof that links it to the original key.
type MigrateResult struct {
	Output      []byte
	ContractKey contractkey.Key
	Proof       [contractkey.ProofSize]byte
}

// AdminRequest authorizes an admin change. An empty NewAdmin clears the
// admin.
type AdminRequest struct {
	Env      []byte
	SigInfo  cosmos.SigInfo
	Admin    cosmos.HumanAddr
	NewAdmin cosmos.HumanAddr
}

func codeHashOf(code []byte) contractkey.CodeHash {
	return contractkey.CodeHash(cryptoutils.SHA256(code))
}

// Init instantiates a contract. Instantiation is always signed, either by
// the user or by the calling contract, and always encrypted.
func (e *Enclave) Init(ctx context.Context, req InitRequest) (InitResult, error) {
	defer e.observe("init", time.Now())

	env, err := ParseEnv(req.Env)
	if err != nil {
		return InitResult{}, err
	}
	codeHash := codeHashOf(req.Code)

	sender, err := e.canonical(env.Message.Sender)
	if err != nil {
		return InitResult{}, err
	}
	contract, err := e.canonical(env.Contract.Address)
	if err != nil {
		return InitResult{}, err
	}

	key, err := e.contractKeys.Generate(env.Message.Sender, env.Block.Height, codeHash, env.Contract.Address)
	if err != nil {
		return InitResult{}, err
	}

	secretMsg, err := secretmsg.FromSlice(req.Msg)
	if err != nil {
		return InitResult{}, fmt.Errorf("%w: init message: %w", validation.ErrParse, err)
	}
	e.metrics.MessageParsed("init", true)

	err = e.verify(validation.VerifyRequest{
		Call: validation.Call{
			Operation: validation.OperationInstantiate,
			Sender:    sender,
			Contract:  env.Contract.Address,
			Msg:       secretMsg,
			SentFunds: env.Message.Funds,
		},
		SigInfo:           req.SigInfo,
		ShouldVerifySig:   true,
		ShouldVerifyInput: true,
	})
	if err != nil {
		return InitResult{}, err
	}

	decrypted, err := e.codec.Decrypt(secretMsg)
	if err != nil {
		e.log.Warn("failed to decrypt init message", "err", err)
		return InitResult{}, err
	}
	validated, err := e.validate(decrypted, codeHash, nil, validation.HandleTypeExecute)
	if err != nil {
		return InitResult{}, err
	}

	out, err := e.execute(ctx, req.Code, "init", env, codeHash, validated.Msg)
	if err != nil {
		return InitResult{}, err
	}

	enc, err := e.encoder(secretMsg, contract, codeHash, sender, validated.ReplyParams)
	if err != nil {
		return InitResult{}, err
	}
	output, err := enc.encrypt(out)
	if err != nil {
		return InitResult{}, err
	}

	e.log.Info("contract instantiated", "contract", env.Contract.Address, "height", env.Block.Height)
	return InitResult{Output: output, ContractKey: key}, nil
}

// Handle runs every call that is not an instantiation, a query or a
// migration. How the input is parsed and which checks run depend on the
// handle type.
func (e *Enclave) Handle(ctx context.Context, req HandleRequest) (HandleResult, error) {
	defer e.observe("handle", time.Now())

	if !req.HandleType.Valid() {
		return HandleResult{}, fmt.Errorf("%w: unknown handle type %d", validation.ErrParse, req.HandleType)
	}

	env, err := ParseEnv(req.Env)
	if err != nil {
		return HandleResult{}, err
	}
	codeHash := codeHashOf(req.Code)

	contract, err := e.canonical(env.Contract.Address)
	if err != nil {
		return HandleResult{}, err
	}
	if err := e.validateContractKey(env, codeHash); err != nil {
		return HandleResult{}, err
	}

	parsed, err := e.parser.ParseMessage(req.Msg, req.HandleType)
	if err != nil {
		return HandleResult{}, err
	}
	e.metrics.MessageParsed(req.HandleType.String(), parsed.WasMsgEncrypted)

	// IBC and reply calls may come without a sender
	sender, err := e.canonical(env.Message.Sender)
	if err != nil {
		sender = cosmos.CanonicalAddr{}
	}

	if parsed.ShouldValidateSigInfo || parsed.ShouldValidateInput {
		err := e.verify(validation.VerifyRequest{
			Call: validation.Call{
				Operation:  validation.OperationHandle,
				HandleType: req.HandleType,
				Sender:     sender,
				Contract:   env.Contract.Address,
				Msg:        parsed.SecretMsg,
				SentFunds:  env.Message.Funds,
			},
			SigInfo:           req.SigInfo,
			ShouldVerifySig:   parsed.ShouldValidateSigInfo,
			ShouldVerifyInput: parsed.ShouldValidateInput,
		})
		if err != nil {
			return HandleResult{}, err
		}
	}

	msg := parsed.DecryptedMsg
	var replyParams []validation.ReplyParams
	if parsed.WasMsgEncrypted {
		validated, err := e.validate(parsed.DecryptedMsg, codeHash, parsed.DataForValidation, req.HandleType)
		if err != nil {
			return HandleResult{}, err
		}
		msg, replyParams = validated.Msg, validated.ReplyParams
	}

	out, err := e.execute(ctx, req.Code, req.HandleType.Entrypoint(), env, codeHash, msg)
	if err != nil {
		return HandleResult{}, err
	}

	enc, err := e.encoder(parsed.SecretMsg, contract, codeHash, sender, replyParams)
	if err != nil {
		return HandleResult{}, err
	}
	var output []byte
	if parsed.ShouldEncryptOutput {
		output, err = enc.encrypt(out)
	} else {
		output, err = enc.plaintext(out)
	}
	if err != nil {
		return HandleResult{}, err
	}
	return HandleResult{Output: output}, nil
}

// Query runs a read-only call. Queries are not signed, so the message must
// decrypt.
func (e *Enclave) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	defer e.observe("query", time.Now())

	env, err := ParseEnv(req.Env)
	if err != nil {
		return QueryResult{}, err
	}
	codeHash := codeHashOf(req.Code)

	contract, err := e.canonical(env.Contract.Address)
	if err != nil {
		return QueryResult{}, err
	}
	if err := e.validateContractKey(env, codeHash); err != nil {
		return QueryResult{}, err
	}

	secretMsg, err := secretmsg.FromSlice(req.Msg)
	if err != nil {
		return QueryResult{}, fmt.Errorf("%w: query message: %w", validation.ErrParse, err)
	}
	decrypted, err := e.codec.Decrypt(secretMsg)
	if err != nil {
		e.log.Warn("failed to decrypt query", "err", err)
		return QueryResult{}, err
	}
	e.metrics.MessageParsed("query", true)

	validated, err := e.validate(decrypted, codeHash, nil, validation.HandleTypeExecute)
	if err != nil {
		return QueryResult{}, err
	}

	out, err := e.execute(ctx, req.Code, "query", env, codeHash, validated.Msg)
	if err != nil {
		return QueryResult{}, err
	}

	enc, err := e.encoder(secretMsg, contract, codeHash, nil, nil)
	if err != nil {
		return QueryResult{}, err
	}
	output, err := enc.encrypt(out)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Output: output}, nil
}

// Migrate moves a contract to new code. Only the admin may migrate, and
// the contract keeps its original key for state while getting a new one
// bound to the new code hash.
func (e *Enclave) Migrate(ctx context.Context, req MigrateRequest) (MigrateResult, error) {
	defer e.observe("migrate", time.Now())

	env, err := ParseEnv(req.Env)
	if err != nil {
		return MigrateResult{}, err
	}
	codeHash := codeHashOf(req.Code)

	sender, err := e.canonical(env.Message.Sender)
	if err != nil {
		return MigrateResult{}, err
	}
	contract, err := e.canonical(env.Contract.Address)
	if err != nil {
		return MigrateResult{}, err
	}

	envKeys, err := env.envKeys()
	if err != nil {
		e.metrics.ContractKeyFailed()
		return MigrateResult{}, err
	}
	ogKey, err := e.contractKeys.ValidateEnvKeys(envKeys, env.Contract.Address, req.PreviousCodeHash)
	if err != nil {
		e.metrics.ContractKeyFailed()
		return MigrateResult{}, err
	}

	secretMsg, err := secretmsg.FromSlice(req.Msg)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("%w: migrate message: %w", validation.ErrParse, err)
	}
	e.metrics.MessageParsed("migrate", true)

	err = e.verify(validation.VerifyRequest{
		Call: validation.Call{
			Operation: validation.OperationMigrate,
			Sender:    sender,
			Contract:  env.Contract.Address,
			Msg:       secretMsg,
			SentFunds: env.Message.Funds,
			Admin:     e.admin(req.Admin),
		},
		SigInfo:           req.SigInfo,
		ShouldVerifySig:   true,
		ShouldVerifyInput: true,
	})
	if err != nil {
		return MigrateResult{}, err
	}

	decrypted, err := e.codec.Decrypt(secretMsg)
	if err != nil {
		e.log.Warn("failed to decrypt migrate message", "err", err)
		return MigrateResult{}, err
	}
	validated, err := e.validate(decrypted, codeHash, nil, validation.HandleTypeExecute)
	if err != nil {
		return MigrateResult{}, err
	}

	newKey, err := e.contractKeys.Generate(env.Message.Sender, env.Block.Height, codeHash, env.Contract.Address)
	if err != nil {
		return MigrateResult{}, err
	}
	proof, err := e.contractKeys.GenerateProof(env.Contract.Address, codeHash, ogKey, newKey)
	if err != nil {
		return MigrateResult{}, err
	}

	out, err := e.execute(ctx, req.Code, "migrate", env, codeHash, validated.Msg)
	if err != nil {
		return MigrateResult{}, err
	}
	enc, err := e.encoder(secretMsg, contract, codeHash, sender, validated.ReplyParams)
	if err != nil {
		return MigrateResult{}, err
	}
	output, err := enc.encrypt(out)
	if err != nil {
		return MigrateResult{}, err
	}

	e.log.Info("contract migrated", "contract", env.Contract.Address, "height", env.Block.Height)
	return MigrateResult{Output: output, ContractKey: newKey, Proof: proof}, nil
}

// AuthorizeAdminChange checks that an update or clear of the contract
// admin was signed by the current admin.
func (e *Enclave) AuthorizeAdminChange(req AdminRequest) error {
	defer e.observe("admin", time.Now())

	env, err := ParseEnv(req.Env)
	if err != nil {
		return err
	}
	sender, err := e.canonical(env.Message.Sender)
	if err != nil {
		return err
	}

	op := validation.OperationUpdateAdmin
	if req.NewAdmin == "" {
		op = validation.OperationClearAdmin
	}
	return e.verify(validation.VerifyRequest{
		Call: validation.Call{
			Operation: op,
			Sender:    sender,
			Contract:  env.Contract.Address,
			SentFunds: env.Message.Funds,
			Admin:     e.admin(req.Admin),
			NewAdmin:  req.NewAdmin,
		},
		SigInfo:           req.SigInfo,
		ShouldVerifySig:   true,
		ShouldVerifyInput: true,
	})
}

func (e *Enclave) observe(operation string, start time.Time) {
	e.metrics.ObserveDuration(operation, time.Since(start))
}

func (e *Enclave) canonical(addr cosmos.HumanAddr) (cosmos.CanonicalAddr, error) {
	c, err := e.addrs.Canonicalize(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: address %q: %v", ErrInvalidEnv, validation.ErrParse, addr, err)
	}
	return c, nil
}

// admin is nil when the contract has no admin or the recorded one does not
// decode, which fails every admin check.
func (e *Enclave) admin(addr cosmos.HumanAddr) cosmos.CanonicalAddr {
	if addr == "" {
		return nil
	}
	c, err := e.addrs.Canonicalize(addr)
	if err != nil {
		e.log.Warn("cannot decode contract admin", "err", err)
		return nil
	}
	return c
}

func (e *Enclave) validateContractKey(env Env, codeHash contractkey.CodeHash) error {
	envKeys, err := env.envKeys()
	if err == nil {
		_, err = e.contractKeys.ValidateEnvKeys(envKeys, env.Contract.Address, codeHash)
	}
	if err != nil {
		e.metrics.ContractKeyFailed()
		return err
	}
	return nil
}

func (e *Enclave) verify(req validation.VerifyRequest) error {
	err := e.verifier.VerifyParams(req)
	if err != nil && !errors.Is(err, validation.ErrUninitialized) {
		stage := "signature"
		if req.SigInfo.HasCallbackSig() {
			stage = "callback"
		}
		e.metrics.VerificationFailed(stage)
	}
	return err
}

func (e *Enclave) validate(msg []byte, codeHash contractkey.CodeHash, dataForValidation []byte, handleType validation.HandleType) (validation.ValidatedMessage, error) {
	validated, err := validation.ValidateMsg(msg, codeHash, dataForValidation, handleType)
	if err != nil {
		e.metrics.VerificationFailed("code_hash")
		e.log.Warn("message validation failed", "handle_type", handleType, "err", err)
		return validation.ValidatedMessage{}, err
	}
	return validated, nil
}

func (e *Enclave) execute(ctx context.Context, code []byte, entrypoint string, env Env, codeHash contractkey.CodeHash, msg []byte) ([]byte, error) {
	envBytes, err := env.engineEnv(codeHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnv, err)
	}
	out, err := e.engine.Execute(ctx, code, entrypoint, envBytes, msg)
	if err != nil {
		e.log.Warn("contract execution failed", "entrypoint", entrypoint, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrEngine, err)
	}
	return out, nil
}

// encoder prepares output encryption under the header of the call. A
// plaintext call has no key to derive; its encoder only signs.
func (e *Enclave) encoder(header secretmsg.SecretMessage, contract cosmos.CanonicalAddr, codeHash contractkey.CodeHash, sender cosmos.CanonicalAddr, replyParams []validation.ReplyParams) (*outputEncoder, error) {
	enc := &outputEncoder{
		header:      header.WithMsg(nil),
		contract:    contract,
		sender:      sender,
		replyParams: replyParams,
		signer:      e.verifier,
	}
	copy(enc.codeHash[:], hex.EncodeToString(codeHash[:]))

	if !header.IsPlaintextSentinel() {
		key, err := e.codec.EncryptionKey(header.Nonce, header.UserPublicKey)
		if err != nil {
			return nil, err
		}
		enc.key = key
	}
	return enc, nil
}
