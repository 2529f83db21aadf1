package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
)

var (
	postSignedHeaders = []string{"(request-target)", "host", "date", "digest"}
	getSignedHeaders  = []string{"(request-target)", "host", "date"}
)

// Digest returns the SHA-256 Digest header value for body.
func Digest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/users/alice#main-key"
//
// Date and Host are filled in when missing. A non-nil body is digested and
// the digest is covered by the signature; GET requests pass a nil body.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}

	headers := getSignedHeaders
	if body != nil {
		req.Header.Set("Digest", Digest(body))
		headers = postSignedHeaders
	}

	signer, err := httpsig.NewSigner(
		httpsig.RSA_SHA256,
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// VerifyRequest verifies the HTTP signature on an incoming request
// Returns the key owner URI (keyId without fragment) if valid
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	if req.Header.Get("Host") == "" && req.Host != "" {
		req.Header.Set("Host", req.Host)
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	keyId, err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256)
	if err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// keyId is usually "https://example.com/users/alice#main-key"
	return strings.Split(keyId, "#")[0], nil
}

// VerifyDigest checks the Digest header against the received body.
func VerifyDigest(req *http.Request, body []byte) error {
	header := req.Header.Get("Digest")
	if header == "" {
		return fmt.Errorf("missing Digest header")
	}

	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		expected := Digest(body)[len("SHA-256="):]
		if subtle.ConstantTimeCompare([]byte(value), []byte(expected)) == 1 {
			return nil
		}
		return fmt.Errorf("digest mismatch")
	}

	return fmt.Errorf("unsupported digest algorithm")
}
