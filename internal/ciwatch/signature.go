package ciwatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"basegraph.app/warden/internal/model"
)

// VerifyHMAC checks header, of the form "<prefix><hex sha256>", against the
// HMAC of body under secret. An empty secret disables verification.
func VerifyHMAC(secret, prefix, header string, body []byte) error {
	if secret == "" {
		return nil
	}
	if !strings.HasPrefix(header, prefix) {
		return model.ErrSignatureMismatch
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return model.ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return model.ErrSignatureMismatch
	}
	return nil
}

// VerifyGitHub checks X-Hub-Signature-256.
func VerifyGitHub(secret, header string, body []byte) error {
	return VerifyHMAC(secret, "sha256=", header, body)
}

// VerifyJira checks X-Hub-Signature.
func VerifyJira(secret, header string, body []byte) error {
	return VerifyHMAC(secret, "sha256=", header, body)
}

// VerifyCircleCI checks circleci-signature, which may carry several
// comma-separated versions; any matching v1 entry passes.
func VerifyCircleCI(secret, header string, body []byte) error {
	if secret == "" {
		return nil
	}
	for _, part := range strings.Split(header, ",") {
		if VerifyHMAC(secret, "v1=", strings.TrimSpace(part), body) == nil {
			return nil
		}
	}
	return model.ErrSignatureMismatch
}

// VerifyGitLab compares the shared X-Gitlab-Token in constant time.
func VerifyGitLab(token, header string) error {
	if token == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(header)) != 1 {
		return model.ErrSignatureMismatch
	}
	return nil
}
