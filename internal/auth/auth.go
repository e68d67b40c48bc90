// Package auth signs outbound REST and WebSocket requests with a venue's
// HMAC credentials. A RequestSigner mutates a request in place; the REST
// call path invokes it only when the caller marks a request as requiring
// authentication.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Request is the subset of an outbound call a Signer needs to produce a
// signature: method, path, and body are covered by the HMAC message; headers
// receives whatever the venue's signing scheme adds.
type Request struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Signer mutates a Request in place, adding whatever headers/params a
// venue's signing scheme requires. Timestamp is the signing time, normally
// taken from a timesync.Synchronizer rather than the wall clock directly, so
// that signed requests survive clock skew against the venue's server.
type Signer interface {
	Sign(req *Request, timestamp time.Time) error
}

// Credentials is one venue's API key/secret/passphrase triplet.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// HMACSigner implements the common exchange pattern: sign
// "timestamp + method + path [+ body]" with HMAC-SHA256 over a base64url
// encoded secret, and attach the result alongside the API key and passphrase
// as headers.
type HMACSigner struct {
	creds        Credentials
	timestampHdr string
	signatureHdr string
	apiKeyHdr    string
	passphraseHdr string
}

// NewHMACSigner creates an HMACSigner using the given header names, so each
// venue's own header conventions (e.g. "POLY_SIGNATURE" vs "X-BAPI-SIGN")
// can be plugged in without changing the signing logic.
func NewHMACSigner(creds Credentials, timestampHdr, signatureHdr, apiKeyHdr, passphraseHdr string) *HMACSigner {
	return &HMACSigner{
		creds:         creds,
		timestampHdr:  timestampHdr,
		signatureHdr:  signatureHdr,
		apiKeyHdr:     apiKeyHdr,
		passphraseHdr: passphraseHdr,
	}
}

// Sign attaches an HMAC-SHA256 signature plus credential headers to req.
func (s *HMACSigner) Sign(req *Request, timestamp time.Time) error {
	ts := strconv.FormatInt(timestamp.Unix(), 10)

	sig, err := s.buildHMAC(ts, req.Method, req.Path, req.Body)
	if err != nil {
		return err
	}

	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	req.Headers[s.timestampHdr] = ts
	req.Headers[s.signatureHdr] = sig
	if s.apiKeyHdr != "" {
		req.Headers[s.apiKeyHdr] = s.creds.APIKey
	}
	if s.passphraseHdr != "" && s.creds.Passphrase != "" {
		req.Headers[s.passphraseHdr] = s.creds.Passphrase
	}
	return nil
}

// buildHMAC computes the HMAC-SHA256 signature for the L2-style auth scheme
// shared by most exchange APIs: message = timestamp + method + path [+ body].
// The secret is tried against every common base64 alphabet before failing,
// since venues are inconsistent about which one they hand out.
func (s *HMACSigner) buildHMAC(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(s.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", err
	}

	message := timestamp + method + path + body

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
