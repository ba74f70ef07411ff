package enclave

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	extism "github.com/extism/go-sdk"
)

// engineInput is what a contract entry point reads from its input.
type engineInput struct {
	Env json.RawMessage `json:"env"`
	Msg json.RawMessage `json:"msg"`
}

// ExtismEngine runs contracts compiled to WebAssembly as Extism plugins. A
// fresh plugin instance serves each call, so no contract state outlives it.
type ExtismEngine struct {
	log *slog.Logger
}

func NewExtismEngine(log *slog.Logger) *ExtismEngine {
	if log == nil {
		log = slog.Default()
	}
	return &ExtismEngine{log: log}
}

// Execute calls entrypoint with {"env": env, "msg": msg}. A message that is
// not JSON is passed as a JSON string.
func (x *ExtismEngine) Execute(ctx context.Context, code []byte, entrypoint string, env []byte, msg []byte) ([]byte, error) {
	input, err := engineCallInput(env, msg)
	if err != nil {
		return nil, err
	}

	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: code},
		},
	}
	config := extism.PluginConfig{
		EnableWasi: true,
	}

	plugin, err := extism.NewPlugin(ctx, manifest, config, []extism.HostFunction{x.debugPrintFunction()})
	if err != nil {
		return nil, fmt.Errorf("failed to create contract instance: %w", err)
	}
	defer plugin.Close(ctx)

	if !plugin.FunctionExists(entrypoint) {
		return nil, fmt.Errorf("contract does not export %s", entrypoint)
	}

	exitCode, out, err := plugin.CallWithContext(ctx, entrypoint, input)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", entrypoint, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%s returned non-zero exit code: %d", entrypoint, exitCode)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned empty result", entrypoint)
	}
	return out, nil
}

func engineCallInput(env, msg []byte) ([]byte, error) {
	in := engineInput{Env: env, Msg: msg}
	if !json.Valid(msg) {
		quoted, err := json.Marshal(string(msg))
		if err != nil {
			return nil, err
		}
		in.Msg = quoted
	}
	return json.Marshal(in)
}

// debugPrintFunction lets contracts log through the enclave logger.
// WASM signature: (param i64) - offset of the message
func (x *ExtismEngine) debugPrintFunction() extism.HostFunction {
	fn := extism.NewHostFunctionWithStack(
		"debug_print",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			msg, err := p.ReadString(stack[0])
			if err != nil {
				x.log.Debug("debug_print: failed to read message", "err", err)
				return
			}
			x.log.Debug("contract debug print", "msg", msg)
		},
		[]extism.ValueType{extism.ValueTypeI64},
		[]extism.ValueType{},
	)
	fn.SetNamespace("env")
	return fn
}
