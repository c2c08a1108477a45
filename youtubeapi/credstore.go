package youtubeapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"

	cryptopkg "github.com/onnwee/audiocast/backend/crypto"
)

var (
	encryptor     cryptopkg.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor initializes the credential-file encryptor from
// CREDENTIALS_ENCRYPTION_KEY. If unset, token files are stored as plain JSON.
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("CREDENTIALS_ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("CREDENTIALS_ENCRYPTION_KEY not set, account credentials will be stored in plaintext (not recommended for production)", slog.String("component", "youtube_creds"))
			return
		}
		enc, err := cryptopkg.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize credentials encryption: %w", err)
			slog.Error("credentials encryption initialization failed", slog.Any("error", encryptorErr), slog.String("component", "youtube_creds"))
			return
		}
		encryptor = enc
		slog.Info("account credential encryption enabled (AES-256-GCM)", slog.String("component", "youtube_creds"))
	})
}

func getEncryptor() (cryptopkg.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// CredentialsPath returns the token file location for an account name.
func CredentialsPath(credentialsDir, accountName string) string {
	return filepath.Join(credentialsDir, accountName+"_credentials.json")
}

// SaveToken persists an OAuth token to the account's credential file, encrypted when
// CREDENTIALS_ENCRYPTION_KEY is configured.
func SaveToken(path string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	enc, err := getEncryptor()
	if err != nil {
		return err
	}
	if enc != nil {
		raw, err = enc.Encrypt(raw)
		if err != nil {
			return fmt.Errorf("encrypt token: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir credentials dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// LoadToken reads an account's credential file, decrypting when encryption is
// configured. Plain-JSON files written before encryption was enabled still load.
func LoadToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	enc, err := getEncryptor()
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if json.Unmarshal(raw, &tok) == nil && (tok.AccessToken != "" || tok.RefreshToken != "") {
		return &tok, nil
	}
	if enc == nil {
		return nil, fmt.Errorf("credentials at %s are not valid JSON and no encryption key is configured", path)
	}
	plain, err := enc.Decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &tok, nil
}
