package store

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/seesee/jottery/internal/apperr"
	jcrypto "github.com/seesee/jottery/internal/crypto"
	bolt "go.etcd.io/bbolt"
)

// containerMagic identifies a jottery encrypted store file.
var containerMagic = [4]byte{'J', 'O', 'T', 'C'}

const containerVersion = 1

// containerHeader is the plaintext prefix of a container file: the
// information needed to re-derive the store key. It is intentionally
// never itself encrypted — it is the server-opaque local equivalent of
// spec.md's `encryption_metadata` row.
type containerHeader struct {
	Salt       []byte    `json:"salt"`
	Iterations int       `json:"iterations"`
	Algorithm  string    `json:"algorithm"`
	CreatedAt  time.Time `json:"createdAt"`
}

// container owns the whole-file AES-256-GCM envelope around a bbolt
// database. Unlock decrypts the file to a session-local temp copy;
// Lock re-encrypts that copy and atomically replaces the on-disk file.
type container struct {
	path     string
	tempPath string
	db       *bolt.DB
	header   containerHeader
	storeKey []byte
}

// openContainer opens (or, if absent, initializes) the container file at
// path under password, decrypting into a session-local working copy.
func openContainer(path, password string) (*container, error) {
	c := &container{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := c.initialize(path, password); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageError, "stat container file", err)
	} else {
		if err := c.unlockExisting(path, password); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(c.tempPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		jcrypto.ZeroBytes(c.storeKey)
		return nil, apperr.Wrap(apperr.KindStorageError, "open working database", err)
	}
	c.db = db

	if err := ensureBuckets(db); err != nil {
		db.Close()
		jcrypto.ZeroBytes(c.storeKey)
		return nil, err
	}

	return c, nil
}

// initialize creates a brand-new container: a random salt, the agreed
// store-key iteration count, and an empty bbolt database.
func (c *container) initialize(path, password string) error {
	salt, err := jcrypto.GenerateSalt()
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "generate salt", err)
	}
	key, err := jcrypto.DeriveKey(password, salt, jcrypto.StoreIterations)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "derive store key", err)
	}

	c.header = containerHeader{
		Salt:       salt,
		Iterations: jcrypto.StoreIterations,
		Algorithm:  jcrypto.Algorithm,
		CreatedAt:  time.Now().UTC(),
	}
	c.storeKey = key
	c.tempPath = sessionTempPath(path)

	// An empty bbolt file is created by simply opening and closing one
	// at the temp path; buckets get created by ensureBuckets afterward.
	if err := os.MkdirAll(filepath.Dir(c.tempPath), 0o700); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "create store directory", err)
	}
	db, err := bolt.Open(c.tempPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "create working database", err)
	}
	return db.Close()
}

// unlockExisting reads, authenticates, and decrypts an existing
// container file to a session-local working copy.
func (c *container) unlockExisting(path, password string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "read container file", err)
	}

	header, nonce, ciphertext, err := splitContainer(raw)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "parse container file", err)
	}

	key, err := jcrypto.DeriveKey(password, header.Salt, header.Iterations)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "derive store key", err)
	}

	plaintext, err := jcrypto.DecryptBinary(key, jcrypto.Blob{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	})
	if err != nil {
		jcrypto.ZeroBytes(key)
		// Wrong password (or a corrupted file) surfaces here, on the
		// first attempt to decrypt — matching the "pragma probe"
		// pattern from the original's SQLCipher-backed store.
		return apperr.New(apperr.KindAuthenticationFailed, "cannot unlock store")
	}

	c.header = header
	c.storeKey = key
	c.tempPath = sessionTempPath(path)

	if err := os.MkdirAll(filepath.Dir(c.tempPath), 0o700); err != nil {
		jcrypto.ZeroBytes(key)
		return apperr.Wrap(apperr.KindStorageError, "create store directory", err)
	}
	if err := os.WriteFile(c.tempPath, plaintext, 0o600); err != nil {
		jcrypto.ZeroBytes(key)
		return apperr.Wrap(apperr.KindStorageError, "write working copy", err)
	}
	return nil
}

// seal re-encrypts the working bbolt file under the store key and
// atomically replaces the on-disk container file. The caller must have
// already closed c.db.
func (c *container) seal() error {
	plaintext, err := os.ReadFile(c.tempPath)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "read working copy", err)
	}

	blob, err := jcrypto.EncryptBinary(c.storeKey, plaintext)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "seal container", err)
	}

	buf, err := joinContainer(c.header, blob)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "encode container", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "write container file", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "replace container file", err)
	}
	return nil
}

// close seals the container (if the working copy still exists), closes
// the bbolt handle, zeroes the store key, and removes the session-local
// working copy.
func (c *container) close() error {
	var sealErr error
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			sealErr = apperr.Wrap(apperr.KindStorageError, "close working database", err)
		} else {
			sealErr = c.seal()
		}
	}
	jcrypto.ZeroBytes(c.storeKey)
	if c.tempPath != "" {
		_ = os.Remove(c.tempPath)
	}
	return sealErr
}

// vacuum compacts the working bbolt file by copying live data into a
// fresh file and swapping it in, the closest bbolt equivalent of
// SQLite's VACUUM (original_source/tui/src/db.rs).
func (c *container) vacuum() error {
	compacted := c.tempPath + ".compact"
	dst, err := bolt.Open(compacted, 0o600, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "open compaction target", err)
	}
	defer os.Remove(compacted)

	if err := c.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, b *bolt.Bucket) error {
				newBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return b.ForEach(func(k, v []byte) error {
					return newBucket.Put(append([]byte(nil), k...), append([]byte(nil), v...))
				})
			})
		})
	}); err != nil {
		dst.Close()
		return apperr.Wrap(apperr.KindStorageError, "compact store", err)
	}
	if err := dst.Close(); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "close compaction target", err)
	}

	if err := c.db.Close(); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "close working database", err)
	}
	if err := os.Rename(compacted, c.tempPath); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "swap compacted store", err)
	}
	db, err := bolt.Open(c.tempPath, 0o600, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "reopen compacted store", err)
	}
	c.db = db
	return nil
}

// fileSize returns the current size of the on-disk (encrypted)
// container file, or the working copy size if the container hasn't
// been sealed yet.
func (c *container) fileSize() (int64, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			info, err = os.Stat(c.tempPath)
		}
		if err != nil {
			return 0, apperr.Wrap(apperr.KindStorageError, "stat container", err)
		}
	}
	return info.Size(), nil
}

func sessionTempPath(path string) string {
	return fmt.Sprintf("%s.%d.session", path, os.Getpid())
}

// joinContainer serializes the header as plaintext JSON and appends the
// AEAD-sealed body: MAGIC | VERSION | headerLen(u32) | header | nonce | ciphertext.
func joinContainer(header containerHeader, blob jcrypto.Blob) ([]byte, error) {
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(containerMagic[:])
	buf.WriteByte(containerVersion)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(headerJSON)))
	buf.Write(lenBuf[:])
	buf.Write(headerJSON)
	buf.Write(nonce)
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// splitContainer reverses joinContainer.
func splitContainer(raw []byte) (containerHeader, []byte, []byte, error) {
	var header containerHeader
	if len(raw) < 4+1+4 {
		return header, nil, nil, fmt.Errorf("container file too short")
	}
	if !bytes.Equal(raw[:4], containerMagic[:]) {
		return header, nil, nil, fmt.Errorf("not a jottery container file")
	}
	version := raw[4]
	if version != containerVersion {
		return header, nil, nil, fmt.Errorf("unsupported container version %d", version)
	}
	headerLen := binary.BigEndian.Uint32(raw[5:9])
	offset := 9 + int(headerLen)
	if len(raw) < offset+jcrypto.NonceSize {
		return header, nil, nil, fmt.Errorf("container file truncated")
	}
	if err := json.Unmarshal(raw[9:offset], &header); err != nil {
		return header, nil, nil, fmt.Errorf("parse header: %w", err)
	}
	nonce := raw[offset : offset+jcrypto.NonceSize]
	ciphertext := raw[offset+jcrypto.NonceSize:]
	return header, nonce, ciphertext, nil
}
