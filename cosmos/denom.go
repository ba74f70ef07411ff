package cosmos

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DenomTrace is an ICS-20 denomination split into its port/channel path
// and base denom.
type DenomTrace struct {
	Path      string
	BaseDenom string
}

// ParseDenomTrace splits "port/channel-N/.../base". A base denom may contain
// slashes. Only pairs whose second element is a channel id belong to the path.
func ParseDenomTrace(raw string) DenomTrace {
	parts := strings.Split(raw, "/")
	if len(parts) == 1 {
		return DenomTrace{BaseDenom: raw}
	}

	var (
		path []string
		base string
	)
	for i := 0; i < len(parts); {
		if i < len(parts)-1 && len(parts) > 2 && isChannelID(parts[i+1]) {
			path = append(path, parts[i], parts[i+1])
			i += 2
			continue
		}
		base = strings.Join(parts[i:], "/")
		break
	}
	return DenomTrace{Path: strings.Join(path, "/"), BaseDenom: base}
}

func (t DenomTrace) FullPath() string {
	if t.Path == "" {
		return t.BaseDenom
	}
	return t.Path + "/" + t.BaseDenom
}

// IBCDenom is "ibc/<HEX(SHA256(full path))>" for traced denoms and the base
// denom otherwise.
func (t DenomTrace) IBCDenom() string {
	if t.Path == "" {
		return t.BaseDenom
	}
	sum := sha256.Sum256([]byte(t.FullPath()))
	return "ibc/" + hex.EncodeToString(sum[:])
}

func DenomPrefix(port, channel string) string {
	return port + "/" + channel + "/"
}

// ReceiverChainIsSource reports whether denom was originally sent from this
// chain over port/channel.
func ReceiverChainIsSource(sourcePort, sourceChannel, denom string) bool {
	return strings.HasPrefix(denom, DenomPrefix(sourcePort, sourceChannel))
}

// LocalDenom converts the denom of an incoming ICS-20 packet to the denom
// the receiving chain credits.
func LocalDenom(sourcePort, sourceChannel, destPort, destChannel, denom string) string {
	if ReceiverChainIsSource(sourcePort, sourceChannel, denom) {
		// the sender chain added its prefix, strip it
		unprefixed := strings.TrimPrefix(denom, DenomPrefix(sourcePort, sourceChannel))
		return ParseDenomTrace(unprefixed).IBCDenom()
	}
	return ParseDenomTrace(DenomPrefix(destPort, destChannel) + denom).IBCDenom()
}

func isChannelID(s string) bool {
	return strings.HasPrefix(s, "channel-")
}
