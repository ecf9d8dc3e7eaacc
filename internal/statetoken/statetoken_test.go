package statetoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

// TestEncodeDecodeRoundTrip verifies a token decodes back to its input state
// under the same report key.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &State{
		Closed:             true,
		BugtrackerName:     "gitlab",
		DownloadedComments: []string{"101", "102"},
	}

	token, err := Encode("4242", in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.HasPrefix(token, envelopePrefix) || !strings.HasSuffix(token, envelopeSuffix) {
		t.Fatalf("token = %q, want sentinel envelope", token)
	}

	got := Decode("4242", token)
	if got == nil {
		t.Fatal("Decode() = nil, want state")
	}
	if got.Closed != in.Closed {
		t.Errorf("Closed = %v, want %v", got.Closed, in.Closed)
	}
	if got.BugtrackerName != in.BugtrackerName {
		t.Errorf("BugtrackerName = %q, want %q", got.BugtrackerName, in.BugtrackerName)
	}
	if len(got.DownloadedComments) != 2 || got.DownloadedComments[0] != "101" || got.DownloadedComments[1] != "102" {
		t.Errorf("DownloadedComments = %v, want [101 102]", got.DownloadedComments)
	}
}

// TestEncodeDeterministic verifies identical inputs produce identical tokens.
func TestEncodeDeterministic(t *testing.T) {
	in := &State{BugtrackerName: "jira", DownloadedComments: []string{"a"}}

	t1, err := Encode("7", in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	t2, err := Encode("7", in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if t1 != t2 {
		t.Errorf("Encode not deterministic: %q vs %q", t1, t2)
	}
}

// TestDecodeWrongKey verifies a token decoded under another report's key is
// treated as no state, not an error.
func TestDecodeWrongKey(t *testing.T) {
	token, err := Encode("4242", &State{BugtrackerName: "github"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got := Decode("9999", token); got != nil {
		t.Errorf("Decode(wrong key) = %+v, want nil", got)
	}
}

// TestDecodeEmbeddedInText verifies extraction from surrounding comment text.
func TestDecodeEmbeddedInText(t *testing.T) {
	token, err := Encode("11", &State{BugtrackerName: "servicenow"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	text := "Synchronized with ServiceNow.\n\n" + token + "\n\nDo not edit this comment."

	got := Decode("11", text)
	if got == nil {
		t.Fatal("Decode() = nil, want state extracted from surrounding text")
	}
	if got.BugtrackerName != "servicenow" {
		t.Errorf("BugtrackerName = %q, want servicenow", got.BugtrackerName)
	}
}

// TestDecodeNoEnvelope verifies plain text decodes to no state.
func TestDecodeNoEnvelope(t *testing.T) {
	if got := Decode("1", "just a regular comment"); got != nil {
		t.Errorf("Decode(no envelope) = %+v, want nil", got)
	}
}

// TestDecodeCorruptBase64 verifies an envelope with invalid base64 is no state.
func TestDecodeCorruptBase64(t *testing.T) {
	if got := Decode("1", "[YWH2BT:S:!!!!]"); got != nil {
		t.Errorf("Decode(corrupt) = %+v, want nil", got)
	}
}

// TestDecodeWrongClassName verifies a well-formed payload with a foreign class
// name is rejected.
func TestDecodeWrongClassName(t *testing.T) {
	payload, err := json.Marshal([2]interface{}{"SomethingElse", &State{BugtrackerName: "github"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	cipher := xorKeystream(payload, deriveKey("55"))
	token := envelopePrefix + base64.StdEncoding.EncodeToString(cipher) + envelopeSuffix

	if got := Decode("55", token); got != nil {
		t.Errorf("Decode(wrong class) = %+v, want nil", got)
	}
}

// TestContains verifies envelope detection without decoding.
func TestContains(t *testing.T) {
	token, err := Encode("3", &State{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !Contains("prefix " + token + " suffix") {
		t.Error("Contains() = false, want true for embedded token")
	}
	if Contains("no token here") {
		t.Error("Contains() = true, want false for plain text")
	}
}

// TestXORKeystreamSymmetric verifies the stream cipher is its own inverse.
func TestXORKeystreamSymmetric(t *testing.T) {
	key := deriveKey("123")
	plain := []byte("some state payload that is longer than the key material to exercise cycling around the key length boundary")

	cipher := xorKeystream(plain, key)
	back := xorKeystream(cipher, key)
	if string(back) != string(plain) {
		t.Errorf("double XOR = %q, want original", back)
	}
}
