package youtubeapi

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// resetEncryptor clears the process-wide encryptor so each test can pick its own
// CREDENTIALS_ENCRYPTION_KEY.
func resetEncryptor() {
	encryptor = nil
	encryptorErr = nil
	encryptorOnce = sync.Once{}
}

func testToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "ya29.test-access",
		RefreshToken: "1//test-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}
}

func TestCredentialsPath(t *testing.T) {
	got := CredentialsPath("/creds", "MusicChannel")
	want := filepath.Join("/creds", "MusicChannel_credentials.json")
	if got != want {
		t.Fatalf("CredentialsPath = %q want %q", got, want)
	}
}

func TestSaveAndLoadTokenPlaintext(t *testing.T) {
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", "")
	resetEncryptor()
	t.Cleanup(resetEncryptor)

	path := filepath.Join(t.TempDir(), "acct_credentials.json")
	tok := testToken()
	if err := SaveToken(path, tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	// Without a key the file is plain JSON.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk oauth2.Token
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("file is not plain JSON: %v", err)
	}

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.AccessToken != tok.AccessToken || got.RefreshToken != tok.RefreshToken {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSaveAndLoadTokenEncrypted(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))
	resetEncryptor()
	t.Cleanup(resetEncryptor)

	path := filepath.Join(t.TempDir(), "acct_credentials.json")
	tok := testToken()
	if err := SaveToken(path, tok); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var onDisk oauth2.Token
	if json.Unmarshal(raw, &onDisk) == nil && onDisk.AccessToken != "" {
		t.Fatal("token stored in plaintext despite encryption key")
	}

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.AccessToken != tok.AccessToken || got.RefreshToken != tok.RefreshToken {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadTokenPlainFileAfterEncryptionEnabled(t *testing.T) {
	// Files written before the key was configured must still load.
	path := filepath.Join(t.TempDir(), "acct_credentials.json")
	raw, err := json.Marshal(testToken())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))
	resetEncryptor()
	t.Cleanup(resetEncryptor)

	got, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if got.AccessToken != "ya29.test-access" {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadTokenMissingFile(t *testing.T) {
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", "")
	resetEncryptor()
	t.Cleanup(resetEncryptor)

	if _, err := LoadToken(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSaveTokenFailsWithBadKey(t *testing.T) {
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", "too-short")
	resetEncryptor()
	t.Cleanup(resetEncryptor)

	path := filepath.Join(t.TempDir(), "acct_credentials.json")
	if err := SaveToken(path, testToken()); err == nil {
		t.Fatal("expected error for invalid encryption key")
	}
}
