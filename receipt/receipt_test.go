package receipt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchauction/core"
)

var issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSettlement() *core.Settlement {
	return &core.Settlement{
		Bidder:        "tz1alice",
		ClearingPrice: 1000000,
		Quantity:      100,
		Cost:          100000000,
		Refund:        60000000,
		Deposit:       160000000,
		WinningBids: []core.Bid{
			{ID: 2, Price: 2000000, Quantity: 60, Bidder: "tz1alice"},
			{ID: 1, Price: 1000000, Quantity: 40, Bidder: "tz1alice"},
		},
		TokenIDs: tokenIDs(0, 99),
	}
}

func tokenIDs(from, to uint64) []uint64 {
	var ids []uint64
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func signedReceipt(t *testing.T) (*KeyManager, ClaimReceipt, []byte) {
	t.Helper()
	km, err := NewKeyManager()
	assert.NoError(t, err)
	signer, err := NewSigner(km)
	assert.NoError(t, err)

	r, err := NewClaimReceipt("auction-1", testSettlement(), issuedAt)
	assert.NoError(t, err)
	coseBytes, err := signer.Sign(r)
	assert.NoError(t, err)
	return km, r, coseBytes
}

func TestNewClaimReceipt(t *testing.T) {
	r, err := NewClaimReceipt("auction-1", testSettlement(), issuedAt)
	assert.NoError(t, err)

	check.Equal(t, 64, len(r.BidHashNonce))
	check.Equal(t, uint64(0), r.FirstTokenID)
	check.Equal(t, uint64(99), r.LastTokenID)
	check.Equal(t, []string{
		core.ComputeBidHash(core.Bid{ID: 1, Price: 1000000, Quantity: 40, Bidder: "tz1alice"}, r.BidHashNonce),
		core.ComputeBidHash(core.Bid{ID: 2, Price: 2000000, Quantity: 60, Bidder: "tz1alice"}, r.BidHashNonce),
	}, r.BidHashes)

	other, err := NewClaimReceipt("auction-1", testSettlement(), issuedAt)
	assert.NoError(t, err)
	check.True(t, r.ID != other.ID)
	check.True(t, r.BidHashNonce != other.BidHashNonce)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	km, want, coseBytes := signedReceipt(t)

	got, err := Verify(coseBytes, km.PublicKey)
	assert.NoError(t, err)
	check.Equal(t, want.ID, got.ID)
	check.Equal(t, want.BidHashes, got.BidHashes)
	check.Equal(t, want.Cost, got.Cost)
	check.True(t, want.IssuedAt.Equal(got.IssuedAt))
}

func TestVerify_WrongKey(t *testing.T) {
	_, _, coseBytes := signedReceipt(t)
	other, err := NewKeyManager()
	assert.NoError(t, err)

	_, err = Verify(coseBytes, other.PublicKey)
	check.Error(t, err)

	// The payload is still readable without verification.
	decoded, err := Decode(coseBytes)
	assert.NoError(t, err)
	check.Equal(t, core.Address("tz1alice"), decoded.Bidder)
}

func TestVerify_TamperedPayload(t *testing.T) {
	km, _, coseBytes := signedReceipt(t)

	msg, err := parseSign1(coseBytes)
	assert.NoError(t, err)
	r, err := decodePayload(msg.Payload)
	assert.NoError(t, err)
	r.Refund++
	msg.Payload, err = encMode.Marshal(r)
	assert.NoError(t, err)
	tampered, err := msg.MarshalCBOR()
	assert.NoError(t, err)

	_, err = Verify(tampered, km.PublicKey)
	check.Error(t, err)
}

func TestValidateReceipt(t *testing.T) {
	km, _, coseBytes := signedReceipt(t)
	price := core.Mutez(1000000)

	result, err := ValidateReceipt(&ValidationInput{
		ReceiptCOSE:   coseBytes,
		PublicKey:     km.PublicKey,
		Bids:          testSettlement().WinningBids,
		ClearingPrice: &price,
	})
	assert.NoError(t, err)
	check.True(t, result.IsValid())

	wrongPrice := core.Mutez(2000000)
	result, err = ValidateReceipt(&ValidationInput{
		ReceiptCOSE:   coseBytes,
		PublicKey:     km.PublicKey,
		Bids:          []core.Bid{{ID: 1, Price: 1000000, Quantity: 41, Bidder: "tz1alice"}},
		ClearingPrice: &wrongPrice,
	})
	assert.NoError(t, err)
	check.True(t, result.SignatureValid)
	check.False(t, result.BidHashesValid)
	check.False(t, result.ClearingPriceValid)
	check.True(t, result.SettlementValid)
	check.False(t, result.IsValid())
}

func TestValidateReceipt_Malformed(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	_, err = ValidateReceipt(&ValidationInput{ReceiptCOSE: []byte("not cose"), PublicKey: km.PublicKey})
	check.Error(t, err)
}

func TestKeyManager_PEMRoundTrip(t *testing.T) {
	km, err := NewKeyManager()
	assert.NoError(t, err)

	pubPEM, err := km.PublicKeyPEM()
	assert.NoError(t, err)
	pub, err := ParsePublicKeyPEM(pubPEM)
	assert.NoError(t, err)
	check.True(t, pub.Equal(km.PublicKey))

	keyPEM, err := km.PrivateKeyPEM()
	assert.NoError(t, err)
	loaded, err := ParsePrivateKeyPEM(keyPEM)
	assert.NoError(t, err)
	check.True(t, loaded.PublicKey.Equal(km.PublicKey))

	_, err = ParsePublicKeyPEM("garbage")
	check.Error(t, err)
}

func TestLoadOrCreateKeyManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt-key.pem")

	created, err := LoadOrCreateKeyManager(path)
	assert.NoError(t, err)
	info, err := os.Stat(path)
	assert.NoError(t, err)
	check.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrCreateKeyManager(path)
	assert.NoError(t, err)
	check.True(t, loaded.PublicKey.Equal(created.PublicKey))

	createdID, _ := created.KeyID()
	loadedID, _ := loaded.KeyID()
	check.Equal(t, createdID, loadedID)
}
