package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testPayload() OrderPayload {
	return OrderPayload{
		Salt:          "12345",
		Maker:         testAddress,
		Signer:        testAddress,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "5000000",
		TakerAmount:   "10000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}
}

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if s.Address().Hex() != testAddress {
		t.Fatalf("address = %s, want %s", s.Address().Hex(), testAddress)
	}
	if s.Funder() != s.Address() {
		t.Fatalf("funder should default to the signer address")
	}
	s.WithFunder("0x2222222222222222222222222222222222222222")
	if s.Funder() == s.Address() {
		t.Fatalf("WithFunder did not change the funder")
	}
}

func TestNewSignerRejectsUnknownChain(t *testing.T) {
	if _, err := NewSigner(testKey, 1); err == nil {
		t.Fatalf("expected error for chain without exchange contract")
	}
}

func TestSignOrderRecovers(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	p := testPayload()
	sig, err := s.SignOrder(p)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if len(sig) != 2+130 {
		t.Fatalf("signature length = %d", len(sig))
	}
	if v := sig[len(sig)-2:]; v != "1b" && v != "1c" {
		t.Fatalf("recovery byte = %s, want 1b or 1c", v)
	}

	got, err := s.RecoverOrderSigner(p, sig)
	if err != nil {
		t.Fatalf("RecoverOrderSigner: %v", err)
	}
	if got != s.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), s.Address().Hex())
	}

	again, _ := s.SignOrder(p)
	if again != sig {
		t.Fatalf("signing is not deterministic")
	}
}

func TestSignOrderRejectsBadNumbers(t *testing.T) {
	s, _ := NewSigner(testKey, 137)
	p := testPayload()
	p.MakerAmount = "1.5"
	if _, err := s.SignOrder(p); err == nil || !strings.Contains(err.Error(), "makerAmount") {
		t.Fatalf("expected makerAmount error, got %v", err)
	}
}

func TestSignAuthMessage(t *testing.T) {
	s, _ := NewSigner(testKey, 137)
	a, err := s.SignAuthMessage(1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	b, _ := s.SignAuthMessage(1700000001, 0)
	if a == b {
		t.Fatalf("different timestamps produced the same signature")
	}
}

func TestL2HeadersAt(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret"))
	auth := &HMACAuth{Key: "key", Secret: secret, Passphrase: "pass"}

	h := auth.L2HeadersAt(testAddress, "POST", "/order", `{"a":1}`, 1700000000)

	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte(`1700000000POST/order{"a":1}`))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	if h["POLY_SIGNATURE"] != want {
		t.Fatalf("signature = %s, want %s", h["POLY_SIGNATURE"], want)
	}
	if h["POLY_TIMESTAMP"] != "1700000000" || h["POLY_API_KEY"] != "key" || h["POLY_ADDRESS"] != testAddress {
		t.Fatalf("unexpected headers: %v", h)
	}
	if !auth.Complete() {
		t.Fatalf("credentials should be complete")
	}
	if strings.Contains(auth.String(), "super") {
		t.Fatalf("String leaks the secret: %s", auth.String())
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != strings.TrimPrefix(testKey, "0x") {
		t.Fatalf("decrypted key mismatch")
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatalf("expected error for wrong password")
	}
}

func TestLoadSigner(t *testing.T) {
	if _, err := LoadSigner(KeyConfig{}, 137, ""); !errors.Is(err, domain.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}

	blob, err := EncryptKey(testKey, "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"}, 137, "")
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	if s.Address().Hex() != testAddress {
		t.Fatalf("address = %s", s.Address().Hex())
	}
}
