// Package crypto holds the operator key: encrypted storage on disk,
// transaction signing, and HMAC signatures for outgoing webhooks.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// ErrKeyMismatch means a key does not control the expected operator address.
var ErrKeyMismatch = errors.New("crypto: key does not match operator address")

// keyFile is the on-disk format of an operator key. Address is stored in
// clear so an operator can tell files apart without the password, and is
// checked against the decrypted key on load.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Salt       []byte         `json:"salt"`
	Nonce      []byte         `json:"nonce"`
	Ciphertext []byte         `json:"ciphertext"`
}

// KeyConfig carries the information LoadKey needs to resolve the key that
// signs rebalancing transactions. Populated from the [wallet] config section.
type KeyConfig struct {
	// RawPrivateKey is a hex secp256k1 key, with or without 0x. It wins over
	// EncryptedKeyPath.
	RawPrivateKey string

	EncryptedKeyPath string
	KeyPassword      string

	// Address, when non-zero, is the operator account the key must control.
	Address common.Address
}

// ParseKey decodes a hex secp256k1 private key.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

// sealer derives the AES-256-GCM cipher for password and salt.
func sealer(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptKey seals key under password and returns the key file contents.
// The operator address is bound into the ciphertext as associated data.
func EncryptKey(key *ecdsa.PrivateKey, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	aead, err := sealer(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    addr,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, ethcrypto.FromECDSA(key), addr.Bytes()),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey. A file whose recorded
// address was edited fails authentication.
func DecryptKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if f.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", f.Version)
	}
	aead, err := sealer(password, f.Salt)
	if err != nil {
		return nil, err
	}
	if len(f.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: key file nonce is %d bytes", len(f.Nonce))
	}
	raw, err := aead.Open(nil, f.Nonce, f.Ciphertext, f.Address.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	key, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto: key file holds an invalid key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(key.PublicKey); got != f.Address {
		return nil, fmt.Errorf("%w: file records %s, key controls %s", ErrKeyMismatch, f.Address.Hex(), got.Hex())
	}
	return key, nil
}

// WriteKeyFile encrypts key to path with owner-only permissions and returns
// the operator address. An existing file is never overwritten.
func WriteKeyFile(path string, key *ecdsa.PrivateKey, password string) (common.Address, error) {
	data, err := EncryptKey(key, password)
	if err != nil {
		return common.Address{}, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: creating key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return common.Address{}, fmt.Errorf("crypto: writing key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return common.Address{}, fmt.Errorf("crypto: closing key file: %w", err)
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// LoadKey resolves the operator key: RawPrivateKey first, then the key file
// at EncryptedKeyPath. With cfg.Address set, the key must control it.
func LoadKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	switch {
	case cfg.RawPrivateKey != "":
		key, err = ParseKey(cfg.RawPrivateKey)
	case cfg.EncryptedKeyPath != "":
		var data []byte
		if data, err = os.ReadFile(cfg.EncryptedKeyPath); err != nil {
			return nil, fmt.Errorf("crypto: reading key file: %w", err)
		}
		key, err = DecryptKey(data, cfg.KeyPassword)
	default:
		return nil, errors.New("crypto: no private key source configured (set private_key or encrypted_key_path)")
	}
	if err != nil {
		return nil, err
	}

	if cfg.Address != (common.Address{}) {
		if got := ethcrypto.PubkeyToAddress(key.PublicKey); got != cfg.Address {
			return nil, fmt.Errorf("%w: configured %s, key controls %s", ErrKeyMismatch, cfg.Address.Hex(), got.Hex())
		}
	}
	return key, nil
}
