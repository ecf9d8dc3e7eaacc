// Package statetoken encodes per-report synchronization state into an opaque
// marker embeddable in platform log text.
//
// A token stamps one synchronization round: which tracker it targeted, whether
// the issue was closed, and which tracker-side comments have already been
// mirrored back. The envelope survives round trips through platform comment
// rendering, and the encoded payload is keyed on the report id so a token
// pasted onto another report decodes to nothing.
//
// The construction is obfuscation, not authenticated encryption. Decoded state
// is a cache-coherence hint only and must never gate authorization.
package statetoken

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"regexp"
)

// className tags the serialized payload so foreign blobs that happen to
// decrypt into JSON are still rejected.
const className = "TrackerIssueState"

const (
	envelopePrefix = "[YWH2BT:S:"
	envelopeSuffix = "]"
)

var tokenPattern = regexp.MustCompile(`\[YWH2BT:S:([A-Za-z0-9+/=]+)\]`)

// State is the synchronization progress carried inside one token.
// Field order is fixed so Encode is byte-stable for identical inputs.
type State struct {
	Closed             bool     `json:"closed"`
	BugtrackerName     string   `json:"bugtracker_name"`
	DownloadedComments []string `json:"downloaded_comments"`
}

// Encode serializes the state under the report's key and wraps it in the
// sentinel envelope. Output is deterministic for identical inputs.
func Encode(reportID string, s *State) (string, error) {
	payload, err := json.Marshal([2]interface{}{className, s})
	if err != nil {
		return "", err
	}
	cipher := xorKeystream(payload, deriveKey(reportID))
	return envelopePrefix + base64.StdEncoding.EncodeToString(cipher) + envelopeSuffix, nil
}

// Decode extracts and decrypts the first token found in text. It returns nil
// when text carries no envelope, the payload does not decrypt under this
// report's key, or the class name does not match. Decode never fails loudly:
// an unreadable token and an absent token are the same thing to callers.
func Decode(reportID, text string) *State {
	m := tokenPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	cipher, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return nil
	}
	plain := xorKeystream(cipher, deriveKey(reportID))

	var envelope [2]json.RawMessage
	if err := json.Unmarshal(plain, &envelope); err != nil {
		return nil
	}
	var class string
	if err := json.Unmarshal(envelope[0], &class); err != nil || class != className {
		return nil
	}
	var s State
	if err := json.Unmarshal(envelope[1], &s); err != nil {
		return nil
	}
	return &s
}

// Contains reports whether text carries a token envelope, decodable or not.
func Contains(text string) bool {
	return tokenPattern.MatchString(text)
}

// deriveKey stretches the report-id string into a fixed-length key. Different
// reports get different keys, which is what makes cross-report tokens inert.
func deriveKey(reportID string) []byte {
	sum := sha256.Sum256([]byte(reportID))
	return sum[:]
}

// xorKeystream applies the symmetric XOR stream cipher: byte i of output is
// byte i of input XOR byte i mod len(key) of key.
func xorKeystream(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}
