package interfaces

import "context"

// Engine runs contract code. env and msg are JSON documents; the returned
// bytes are the contract's JSON result, either {"Ok": ...} or {"Err": ...}.
type Engine interface {
	Execute(ctx context.Context, code []byte, entrypoint string, env []byte, msg []byte) ([]byte, error)
}
