package auth

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestSignAttachesHeaders(t *testing.T) {
	t.Parallel()
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret"))
	signer := NewHMACSigner(
		Credentials{APIKey: "key123", Secret: secret, Passphrase: "pp"},
		"X-TIMESTAMP", "X-SIGNATURE", "X-API-KEY", "X-PASSPHRASE",
	)

	req := &Request{Method: "GET", Path: "/v1/orders", Body: ""}
	ts := time.Unix(1_700_000_000, 0)
	if err := signer.Sign(req, ts); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if req.Headers["X-API-KEY"] != "key123" {
		t.Errorf("api key header = %q", req.Headers["X-API-KEY"])
	}
	if req.Headers["X-PASSPHRASE"] != "pp" {
		t.Errorf("passphrase header = %q", req.Headers["X-PASSPHRASE"])
	}
	if req.Headers["X-TIMESTAMP"] != "1700000000" {
		t.Errorf("timestamp header = %q", req.Headers["X-TIMESTAMP"])
	}
	if req.Headers["X-SIGNATURE"] == "" {
		t.Error("expected a non-empty signature")
	}
}

func TestSignIsDeterministic(t *testing.T) {
	t.Parallel()
	secret := base64.StdEncoding.EncodeToString([]byte("another-secret"))
	signer := NewHMACSigner(Credentials{Secret: secret}, "ts", "sig", "", "")

	ts := time.Unix(1_700_000_001, 0)
	req1 := &Request{Method: "POST", Path: "/orders", Body: `{"a":1}`}
	req2 := &Request{Method: "POST", Path: "/orders", Body: `{"a":1}`}

	if err := signer.Sign(req1, ts); err != nil {
		t.Fatal(err)
	}
	if err := signer.Sign(req2, ts); err != nil {
		t.Fatal(err)
	}
	if req1.Headers["sig"] != req2.Headers["sig"] {
		t.Error("identical requests at the same timestamp should sign identically")
	}
}

func TestSignDiffersByBody(t *testing.T) {
	t.Parallel()
	secret := base64.StdEncoding.EncodeToString([]byte("another-secret"))
	signer := NewHMACSigner(Credentials{Secret: secret}, "ts", "sig", "", "")
	ts := time.Unix(1_700_000_002, 0)

	req1 := &Request{Method: "POST", Path: "/orders", Body: `{"a":1}`}
	req2 := &Request{Method: "POST", Path: "/orders", Body: `{"a":2}`}
	if err := signer.Sign(req1, ts); err != nil {
		t.Fatal(err)
	}
	if err := signer.Sign(req2, ts); err != nil {
		t.Fatal(err)
	}
	if req1.Headers["sig"] == req2.Headers["sig"] {
		t.Error("different bodies should sign differently")
	}
}

func TestSignAcceptsEitherBase64Alphabet(t *testing.T) {
	t.Parallel()
	raw := []byte("mixed-alphabet-secret-value")

	urlEnc := base64.URLEncoding.EncodeToString(raw)
	stdEnc := base64.StdEncoding.EncodeToString(raw)

	ts := time.Unix(1_700_000_003, 0)
	req := &Request{Method: "GET", Path: "/x"}

	s1 := NewHMACSigner(Credentials{Secret: urlEnc}, "ts", "sig", "", "")
	if err := s1.Sign(req, ts); err != nil {
		t.Fatalf("url-encoded secret: %v", err)
	}
	sigFromURL := req.Headers["sig"]

	req2 := &Request{Method: "GET", Path: "/x"}
	s2 := NewHMACSigner(Credentials{Secret: stdEnc}, "ts", "sig", "", "")
	if err := s2.Sign(req2, ts); err != nil {
		t.Fatalf("std-encoded secret: %v", err)
	}

	if sigFromURL != req2.Headers["sig"] {
		t.Error("same underlying secret bytes via different base64 alphabets should sign identically")
	}
}
