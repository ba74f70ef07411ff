package validation

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

type SubMsgResponse struct {
	Events []Event `json:"events"`
	Data   []byte  `json:"data"`
}

// SubMsgResult holds exactly one of Ok and Err.
type SubMsgResult struct {
	Ok  *SubMsgResponse `json:"ok,omitempty"`
	Err *string         `json:"error,omitempty"`
}

func (r *SubMsgResult) UnmarshalJSON(b []byte) error {
	type plain SubMsgResult
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if (v.Ok == nil) == (v.Err == nil) {
		return fmt.Errorf("%w: sub-message result must be either ok or error", ErrParse)
	}
	if v.Ok != nil && v.Ok.Events == nil {
		v.Ok.Events = []Event{}
	}
	*r = SubMsgResult(v)
	return nil
}

// Reply is the reply the host passes back to the contract that emitted a
// sub-message. When IsEncrypted is set, ID, the ok data and the error
// string are ciphertexts under the original call's nonce and key.
type Reply struct {
	ID                  []byte       `json:"id"`
	Result              SubMsgResult `json:"result"`
	WasOrigMsgEncrypted bool         `json:"was_orig_msg_encrypted"`
	IsEncrypted         bool         `json:"is_encrypted"`
}

// DecryptedReply is what the contract's reply entry point receives.
type DecryptedReply struct {
	ID     uint64       `json:"id"`
	Result SubMsgResult `json:"result"`
}

var redactedAttributes = map[string]struct{}{
	"contract_address": {},
	"code_id":          {},
}

// RedactEvents keeps only custom wasm events and strips the attributes the
// chain adds for routing. Events left without attributes are dropped. Error
// results are returned unchanged.
func RedactEvents(result SubMsgResult) SubMsgResult {
	if result.Ok == nil {
		return result
	}

	events := []Event{}
	for _, ev := range result.Ok.Events {
		if !strings.HasPrefix(ev.Type, "wasm") {
			continue
		}
		kept := Event{Type: ev.Type, Attributes: []Attribute{}}
		for _, attr := range ev.Attributes {
			if _, redacted := redactedAttributes[attr.Key]; !redacted {
				kept.Attributes = append(kept.Attributes, attr)
			}
		}
		if len(kept.Attributes) > 0 {
			events = append(events, kept)
		}
	}

	return SubMsgResult{Ok: &SubMsgResponse{Events: events, Data: result.Ok.Data}}
}

// ReplySignBytes is what the callee's enclave signs for an encrypted reply:
// the encrypted id together with the encrypted result exactly as the host
// will deliver them. Events are left out since the host assembles them
// after the callee has run.
func ReplySignBytes(id []byte, result SubMsgResult) ([]byte, error) {
	signed := Reply{ID: id, IsEncrypted: true}
	if result.Ok != nil {
		signed.Result.Ok = &SubMsgResponse{Events: []Event{}, Data: result.Ok.Data}
	} else {
		signed.Result.Err = result.Err
	}
	b, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("%w: reply: %v", ErrParse, err)
	}
	return b, nil
}
