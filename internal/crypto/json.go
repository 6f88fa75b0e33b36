package crypto

import (
	"encoding/json"
	"fmt"
)

// EncryptJSON marshals v and encrypts the resulting bytes under key.
// The local store uses it to keep a note's whole tag list as a single
// at-rest blob; the sync transport encrypts each tag separately instead.
func EncryptJSON(key []byte, v any) (Blob, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Blob{}, fmt.Errorf("crypto: marshal json: %w", err)
	}
	return EncryptBinary(key, raw)
}

// DecryptJSON reverses EncryptJSON into out, which must be a pointer.
func DecryptJSON(key []byte, blob Blob, out any) error {
	raw, err := DecryptBinary(key, blob)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return authFailed(err)
	}
	return nil
}
