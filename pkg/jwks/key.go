package jwks

import (
	"bytes"
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Values of the JWK "use" member.
const (
	UseSignature  = "sig"
	UseEncryption = "enc"
)

// minRSAModulusBits is the smallest RSA modulus accepted from a key set.
const minRSAModulusBits = 2048

var (
	errSymmetricKey   = errors.New("jwks: symmetric keys are never trusted")
	errUnsupportedKey = errors.New("jwks: unsupported key type")
)

// SigningKey is one public verification key from the authority's key set.
// It is immutable once parsed.
type SigningKey struct {
	// KeyID is the JWK "kid"; empty when the authority did not set one.
	KeyID string

	// Use is the JWK "use" member: "sig", "enc" or empty.
	Use string

	// Algorithm is the JWK "alg" member. When set, tokens signed with any
	// other algorithm are rejected for this key.
	Algorithm string

	// KeyType is the JWK "kty": RSA, EC or OKP.
	KeyType string

	// Public is an *rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey.
	Public crypto.PublicKey

	raw json.RawMessage
}

// JWK returns the key's original JSON representation.
func (k SigningKey) JWK() json.RawMessage {
	return bytes.Clone(k.raw)
}

// signing reports whether the key may verify signatures.
func (k SigningKey) signing() bool {
	return k.Use != UseEncryption
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// ParseKey parses a single JWK. Symmetric (kty "oct") keys are always
// rejected so an HMAC secret can never become a verification key.
func ParseKey(raw json.RawMessage) (SigningKey, error) {
	var k jwk
	if err := json.Unmarshal(raw, &k); err != nil {
		return SigningKey{}, fmt.Errorf("jwks: decode key: %w", err)
	}

	var (
		pub crypto.PublicKey
		err error
	)
	switch k.Kty {
	case "RSA":
		pub, err = parseRSA(k.N, k.E)
	case "EC":
		pub, err = parseEC(k.Crv, k.X, k.Y)
	case "OKP":
		pub, err = parseOKP(k.Crv, k.X)
	case "oct":
		err = errSymmetricKey
	default:
		err = fmt.Errorf("%w %q", errUnsupportedKey, k.Kty)
	}
	if err != nil {
		return SigningKey{}, err
	}
	if k.Alg != "" && !algorithmFits(k.Alg, pub) {
		return SigningKey{}, fmt.Errorf("jwks: key %q declares alg %s which does not fit kty %s", k.Kid, k.Alg, k.Kty)
	}

	return SigningKey{
		KeyID:     k.Kid,
		Use:       k.Use,
		Algorithm: k.Alg,
		KeyType:   k.Kty,
		Public:    pub,
		raw:       bytes.Clone(raw),
	}, nil
}

func decodeSegment(name, value string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return nil, fmt.Errorf("jwks: decode %s: %w", name, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("jwks: %s is empty", name)
	}
	return b, nil
}

func parseRSA(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := decodeSegment("RSA modulus", n)
	if err != nil {
		return nil, err
	}
	eBytes, err := decodeSegment("RSA exponent", e)
	if err != nil {
		return nil, err
	}

	modulus := new(big.Int).SetBytes(nBytes)
	if modulus.BitLen() < minRSAModulusBits {
		return nil, fmt.Errorf("jwks: RSA modulus of %d bits is below %d", modulus.BitLen(), minRSAModulusBits)
	}
	exponent := new(big.Int).SetBytes(eBytes)
	if !exponent.IsInt64() || exponent.Int64() < 3 || exponent.Int64() > 1<<31-1 || exponent.Bit(0) == 0 {
		return nil, errors.New("jwks: RSA exponent is out of range")
	}
	return &rsa.PublicKey{N: modulus, E: int(exponent.Int64())}, nil
}

func parseEC(crv, x, y string) (*ecdsa.PublicKey, error) {
	var (
		curve elliptic.Curve
		check ecdh.Curve
	)
	switch crv {
	case "P-256":
		curve, check = elliptic.P256(), ecdh.P256()
	case "P-384":
		curve, check = elliptic.P384(), ecdh.P384()
	case "P-521":
		curve, check = elliptic.P521(), ecdh.P521()
	default:
		return nil, fmt.Errorf("jwks: unsupported EC curve %q", crv)
	}

	xBytes, err := decodeSegment("EC x coordinate", x)
	if err != nil {
		return nil, err
	}
	yBytes, err := decodeSegment("EC y coordinate", y)
	if err != nil {
		return nil, err
	}
	size := (curve.Params().BitSize + 7) / 8
	if len(xBytes) > size || len(yBytes) > size {
		return nil, errors.New("jwks: EC coordinate longer than the curve size")
	}

	point := make([]byte, 1+2*size)
	point[0] = 4
	copy(point[1+size-len(xBytes):1+size], xBytes)
	copy(point[1+2*size-len(yBytes):], yBytes)
	if _, err := check.NewPublicKey(point); err != nil {
		return nil, fmt.Errorf("jwks: EC point is not on curve %s: %w", crv, err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

func parseOKP(crv, x string) (ed25519.PublicKey, error) {
	if crv != "Ed25519" {
		return nil, fmt.Errorf("jwks: unsupported OKP curve %q", crv)
	}
	b, err := decodeSegment("OKP x", x)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("jwks: Ed25519 key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// algorithmFits reports whether a JWS algorithm name can be verified with pub.
func algorithmFits(alg string, pub crypto.PublicKey) bool {
	switch p := pub.(type) {
	case *rsa.PublicKey:
		switch alg {
		case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512":
			return true
		}
	case *ecdsa.PublicKey:
		switch p.Curve.Params().Name {
		case "P-256":
			return alg == "ES256"
		case "P-384":
			return alg == "ES384"
		case "P-521":
			return alg == "ES512"
		}
	case ed25519.PublicKey:
		return alg == "EdDSA"
	}
	return false
}

type document struct {
	Keys []json.RawMessage `json:"keys"`
}

// ParseSet parses a JWKS document. Entries that cannot be used are skipped
// and counted; a document without a "keys" member, or with no usable
// key at all, is an error.
func ParseSet(body []byte) (keys []SigningKey, skipped int, err error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, 0, fmt.Errorf("jwks: decode document: %w", err)
	}
	if doc.Keys == nil {
		return nil, 0, errors.New(`jwks: document has no "keys" member`)
	}

	keys = make([]SigningKey, 0, len(doc.Keys))
	for _, raw := range doc.Keys {
		k, err := ParseKey(raw)
		if err != nil {
			skipped++
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, skipped, fmt.Errorf("jwks: none of %d keys is usable", len(doc.Keys))
	}
	return keys, skipped, nil
}
