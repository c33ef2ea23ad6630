// Package crypto loads wallet keys and signs Solana transactions.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 480_000
	kdfSaltLen    = 16
	kdfKeyLen     = 32 // AES-256
	keyFileV1     = 1
	// ed25519 secret key: 32-byte seed followed by the public key.
	secretKeyLen = 64
)

var errNoPassword = errors.New("crypto: key password is empty")

// keyFile is the on-disk form of an encrypted wallet. []byte fields are
// base64 in JSON. The public key is readable without the password and is
// bound to the ciphertext as associated data.
type keyFile struct {
	Version    int    `json:"version"`
	PublicKey  string `json:"public_key"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// KeyConfig names where LoadKey finds the wallet key. RawPrivateKey wins
// over EncryptedKeyPath.
type KeyConfig struct {
	RawPrivateKey    string // base58 or solana-keygen JSON array
	EncryptedKeyPath string // file written from EncryptKey output
	KeyPassword      string
}

// ParsePrivateKey accepts a base58 secret key or a solana-keygen JSON array
// of 64 bytes.
func ParsePrivateKey(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	var key solana.PrivateKey
	if strings.HasPrefix(raw, "[") {
		var vals []int
		if err := json.Unmarshal([]byte(raw), &vals); err != nil {
			return nil, fmt.Errorf("crypto: key byte array: %w", err)
		}
		key = make(solana.PrivateKey, len(vals))
		for i, v := range vals {
			if v < 0 || v > 0xff {
				return nil, fmt.Errorf("crypto: key byte %d is %d", i, v)
			}
			key[i] = byte(v)
		}
	} else {
		var err error
		if key, err = solana.PrivateKeyFromBase58(raw); err != nil {
			return nil, fmt.Errorf("crypto: base58 key: %w", err)
		}
	}
	if len(key) != secretKeyLen {
		return nil, fmt.Errorf("crypto: key is %d bytes, want %d", len(key), secretKeyLen)
	}
	return key, nil
}

// EncryptKey seals rawKey under password (PBKDF2-SHA256, AES-256-GCM) and
// returns the indented JSON key file.
func EncryptKey(rawKey string, password string) ([]byte, error) {
	if password == "" {
		return nil, errNoPassword
	}
	key, err := ParsePrivateKey(rawKey)
	if err != nil {
		return nil, err
	}

	f := keyFile{
		Version:   keyFileV1,
		PublicKey: key.PublicKey().String(),
		Salt:      make([]byte, kdfSaltLen),
	}
	if _, err := rand.Read(f.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := deriveAEAD(password, f.Salt)
	if err != nil {
		return nil, err
	}
	f.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(f.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	f.Ciphertext = aead.Seal(nil, f.Nonce, key, []byte(f.PublicKey))
	return json.MarshalIndent(f, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey.
func DecryptKey(data []byte, password string) (solana.PrivateKey, error) {
	if password == "" {
		return nil, errNoPassword
	}
	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("crypto: key file: %w", err)
	}
	if f.Version != keyFileV1 {
		return nil, fmt.Errorf("crypto: key file version %d not supported", f.Version)
	}

	aead, err := deriveAEAD(password, f.Salt)
	if err != nil {
		return nil, err
	}
	if len(f.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("crypto: key file nonce is %d bytes", len(f.Nonce))
	}
	plain, err := aead.Open(nil, f.Nonce, f.Ciphertext, []byte(f.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("crypto: open key file (wrong password or edited file): %w", err)
	}
	key := solana.PrivateKey(plain)
	if len(key) != secretKeyLen || key.PublicKey().String() != f.PublicKey {
		return nil, errors.New("crypto: key file does not match its public key")
	}
	return key, nil
}

// LoadKey resolves the wallet key from cfg.
func LoadKey(cfg KeyConfig) (solana.PrivateKey, error) {
	switch {
	case cfg.RawPrivateKey != "":
		return ParsePrivateKey(cfg.RawPrivateKey)
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return nil, errors.New("crypto: no wallet key configured")
	}
}

func deriveAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}
