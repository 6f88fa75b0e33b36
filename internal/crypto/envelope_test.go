package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/seesee/jottery/internal/apperr"
)

func mustSalt(t *testing.T) []byte {
	t.Helper()
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	return salt
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := mustSalt(t)

	k1, err := DeriveKey("correct horse", salt, DefaultIterations)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := DeriveKey("correct horse", salt, DefaultIterations)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if string(k1) != string(k2) {
		t.Fatal("DeriveKey is not deterministic for the same inputs")
	}

	k3, err := DeriveKey("different password", salt, DefaultIterations)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if string(k1) == string(k3) {
		t.Fatal("DeriveKey collided across different passwords")
	}
}

func TestDeriveKeyRejectsShortSalt(t *testing.T) {
	_, err := DeriveKey("password", make([]byte, 31), DefaultIterations)
	if err == nil {
		t.Fatal("expected error for 31-byte salt")
	}
}

func TestDeriveKeyAcceptsExactFloorSalt(t *testing.T) {
	if _, err := DeriveKey("password", make([]byte, 32), DefaultIterations); err != nil {
		t.Fatalf("expected 32-byte salt to be accepted, got %v", err)
	}
}

func TestDeriveKeySubstitutesWeakIterations(t *testing.T) {
	salt := mustSalt(t)
	withWeak, err := DeriveKey("password", salt, 99_999)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	withFloor, err := DeriveKey("password", salt, DefaultIterations)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if string(withWeak) != string(withFloor) {
		t.Fatal("iterations below the floor were not substituted up to the floor")
	}
}

func TestEncryptDecryptTextRoundtrip(t *testing.T) {
	salt := mustSalt(t)
	key, err := DeriveKey("hunter2", salt, DefaultIterations)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}

	blob, err := EncryptText(key, "meeting notes: ship by friday")
	if err != nil {
		t.Fatalf("EncryptText: %v", err)
	}
	plaintext, err := DecryptText(key, blob)
	if err != nil {
		t.Fatalf("DecryptText: %v", err)
	}
	if plaintext != "meeting notes: ship by friday" {
		t.Fatalf("roundtrip mismatch: got %q", plaintext)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	salt := mustSalt(t)
	k1, _ := DeriveKey("p1", salt, DefaultIterations)
	k2, _ := DeriveKey("p2", salt, DefaultIterations)

	blob, err := EncryptText(k1, "secret")
	if err != nil {
		t.Fatalf("EncryptText: %v", err)
	}
	if _, err := DecryptText(k2, blob); err == nil {
		t.Fatal("expected decryption with wrong key to fail")
	} else if !apperr.Is(err, apperr.KindAuthenticationFailed) {
		t.Fatalf("expected KindAuthenticationFailed, got %v", err)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key, _ := DeriveKey("p1", mustSalt(t), DefaultIterations)
	blob, err := EncryptText(key, "secret")
	if err != nil {
		t.Fatalf("EncryptText: %v", err)
	}
	// Flip a bit in the last byte of the decoded ciphertext, which is
	// part of the embedded authentication tag.
	raw, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	raw[len(raw)-1] ^= 0x01
	blob.Ciphertext = base64.StdEncoding.EncodeToString(raw)

	if _, err := DecryptText(key, blob); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}

func TestEncryptBinaryRoundtrip(t *testing.T) {
	key, _ := DeriveKey("p1", mustSalt(t), DefaultIterations)
	data := []byte{0x00, 0x01, 0xFF, 0x10, 0x20, 0x30}
	blob, err := EncryptBinary(key, data)
	if err != nil {
		t.Fatalf("EncryptBinary: %v", err)
	}
	got, err := DecryptBinary(key, blob)
	if err != nil {
		t.Fatalf("DecryptBinary: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("binary roundtrip mismatch: got %v want %v", got, data)
	}
}

func TestDecryptAcceptsSeparateTag(t *testing.T) {
	// Simulate a peer that ships the tag separately rather than
	// embedded at the tail of the ciphertext (spec.md §6 allows both).
	key, _ := DeriveKey("p1", mustSalt(t), DefaultIterations)
	blob, err := EncryptText(key, "peer compatible")
	if err != nil {
		t.Fatalf("EncryptText: %v", err)
	}

	raw, err := decodeCiphertextAndTag(blob)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	split := len(raw) - 16 // AES-GCM tag is always 16 bytes
	split1 := Blob{
		Ciphertext: base64.StdEncoding.EncodeToString(raw[:split]),
		Nonce:      blob.Nonce,
		Tag:        base64.StdEncoding.EncodeToString(raw[split:]),
	}

	plaintext, err := DecryptText(key, split1)
	if err != nil {
		t.Fatalf("DecryptText with separate tag: %v", err)
	}
	if plaintext != "peer compatible" {
		t.Fatalf("roundtrip mismatch: got %q", plaintext)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash("same content")
	b := Hash("same content")
	if a != b {
		t.Fatal("Hash is not deterministic")
	}
	if Hash("different content") == a {
		t.Fatal("Hash collided across different content")
	}
}

func TestEncryptJSONRoundtrip(t *testing.T) {
	key, _ := DeriveKey("p1", mustSalt(t), DefaultIterations)
	tags := []string{"work", "urgent", "q3-planning"}

	blob, err := EncryptJSON(key, tags)
	if err != nil {
		t.Fatalf("EncryptJSON: %v", err)
	}

	var out []string
	if err := DecryptJSON(key, blob, &out); err != nil {
		t.Fatalf("DecryptJSON: %v", err)
	}
	if len(out) != len(tags) {
		t.Fatalf("got %d tags, want %d", len(out), len(tags))
	}
	for i := range tags {
		if out[i] != tags[i] {
			t.Fatalf("tag %d mismatch: got %q want %q", i, out[i], tags[i])
		}
	}
}
