package crypto

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/trinityai/trinity-gateway/internal/database"
)

const settingFernetKey = "fernet_key"

// ErrInvalidToken is returned when a token fails verification, has expired,
// or was sealed with a different key.
var ErrInvalidToken = errors.New("invalid token")

var (
	keyMu     sync.Mutex
	cachedKey *fernet.Key
)

func getKey() (*fernet.Key, error) {
	keyMu.Lock()
	defer keyMu.Unlock()

	if cachedKey != nil {
		return cachedKey, nil
	}

	keyStr, err := database.GetSetting(settingFernetKey)
	if err != nil {
		var k fernet.Key
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("generate fernet key: %w", err)
		}
		if err := database.SetSetting(settingFernetKey, k.Encode()); err != nil {
			return nil, fmt.Errorf("save fernet key: %w", err)
		}
		cachedKey = &k
		return cachedKey, nil
	}

	key, err := fernet.DecodeKey(keyStr)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	cachedKey = key
	return cachedKey, nil
}

// ResetKeyCache drops the in-memory key so the next call reloads it from
// the settings table.
func ResetKeyCache() {
	keyMu.Lock()
	cachedKey = nil
	keyMu.Unlock()
}

// Seal encrypts and signs plaintext. The token embeds its creation time,
// which Open checks against the caller's ttl.
func Seal(plaintext []byte) (string, error) {
	key, err := getKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign(plaintext, key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Open verifies a sealed token and returns its plaintext. A zero ttl
// disables the age check.
func Open(token string, ttl time.Duration) ([]byte, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	key, err := getKey()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = -1
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), ttl, []*fernet.Key{key})
	if msg == nil {
		return nil, ErrInvalidToken
	}
	return msg, nil
}
