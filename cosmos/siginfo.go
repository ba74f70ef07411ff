package cosmos

import (
	"fmt"
	"strconv"
)

// SignMode mirrors cosmos.tx.signing.v1beta1.SignMode.
type SignMode int32

const (
	SignModeUnspecified     SignMode = 0
	SignModeDirect          SignMode = 1
	SignModeTextual         SignMode = 2
	SignModeLegacyAminoJSON SignMode = 127
	SignModeEIP191          SignMode = 191
)

var signModeNames = map[SignMode]string{
	SignModeUnspecified:     "SIGN_MODE_UNSPECIFIED",
	SignModeDirect:          "SIGN_MODE_DIRECT",
	SignModeTextual:         "SIGN_MODE_TEXTUAL",
	SignModeLegacyAminoJSON: "SIGN_MODE_LEGACY_AMINO_JSON",
	SignModeEIP191:          "SIGN_MODE_EIP_191",
}

func (m SignMode) String() string {
	if name, ok := signModeNames[m]; ok {
		return name
	}
	return strconv.Itoa(int(m))
}

func (m SignMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts the enum name or its number.
func (m *SignMode) UnmarshalText(text []byte) error {
	s := string(text)
	for mode, name := range signModeNames {
		if name == s {
			*m = mode
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return fmt.Errorf("unknown sign mode %q", s)
	}
	*m = SignMode(n)
	return nil
}

// SigInfo is the verification info the host passes with every call. Byte
// fields are base64 in JSON. A nil CallbackSig means the call was signed by
// a user; a present but empty one never verifies.
type SigInfo struct {
	SignBytes   []byte   `json:"sign_bytes"`
	SignMode    SignMode `json:"sign_mode"`
	ModeInfo    []byte   `json:"mode_info"`
	PublicKey   []byte   `json:"public_key"`
	Signature   []byte   `json:"signature"`
	CallbackSig []byte   `json:"callback_sig"`
}

func (s SigInfo) HasCallbackSig() bool {
	return s.CallbackSig != nil
}
