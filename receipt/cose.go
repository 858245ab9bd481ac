package receipt

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if encMode, err = opts.EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// Signer produces COSE_Sign1 claim receipts.
type Signer struct {
	signer cose.Signer
	keyID  []byte
}

// NewSigner returns an ES256 signer backed by the key manager's private key.
func NewSigner(km *KeyManager) (*Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, km.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	kid, err := km.KeyID()
	if err != nil {
		return nil, err
	}
	return &Signer{signer: signer, keyID: []byte(kid)}, nil
}

// Sign encodes the receipt and returns the tagged COSE_Sign1 bytes.
func (s *Signer) Sign(r ClaimReceipt) ([]byte, error) {
	payload, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Headers.Protected[cose.HeaderLabelContentType] = "application/cbor"
	msg.Headers.Unprotected[cose.HeaderLabelKeyID] = s.keyID
	msg.Payload = payload

	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("failed to sign receipt %s: %w", r.ID, err)
	}
	coseBytes, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal COSE_Sign1: %w", err)
	}
	return coseBytes, nil
}

// Verify checks the ES256 signature of a receipt and returns its payload.
func Verify(coseBytes []byte, pub *ecdsa.PublicKey) (*ClaimReceipt, error) {
	msg, err := parseSign1(coseBytes)
	if err != nil {
		return nil, err
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return decodePayload(msg.Payload)
}

// Decode returns the receipt payload without checking the signature.
func Decode(coseBytes []byte) (*ClaimReceipt, error) {
	msg, err := parseSign1(coseBytes)
	if err != nil {
		return nil, err
	}
	return decodePayload(msg.Payload)
}

func parseSign1(coseBytes []byte) (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	return &msg, nil
}

func decodePayload(payload []byte) (*ClaimReceipt, error) {
	var r ClaimReceipt
	if err := decMode.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("parse receipt payload: %w", err)
	}
	return &r, nil
}
