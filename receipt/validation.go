package receipt

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/cloudx-io/batchauction/core"
)

// ValidationInput is what a bidder knows about its own claim.
type ValidationInput struct {
	ReceiptCOSE []byte
	PublicKey   *ecdsa.PublicKey

	// Bids are the bidder's winning bids as it recorded them; each must be committed
	// to in the receipt.
	Bids []core.Bid

	// ClearingPrice, if set, must match the receipt.
	ClearingPrice *core.Mutez
}

// ValidationResult contains the outcome of each check.
type ValidationResult struct {
	SignatureValid     bool
	BidHashesValid     bool
	ClearingPriceValid bool
	SettlementValid    bool
	Receipt            *ClaimReceipt
	ValidationDetails  []string
}

// IsValid returns true if all checks passed.
func (r *ValidationResult) IsValid() bool {
	return r.SignatureValid && r.BidHashesValid && r.ClearingPriceValid && r.SettlementValid
}

// ValidateReceipt verifies a claim receipt and checks it against the bidder's own
// records:
// - Signature is valid for the given public key
// - Every given bid is committed to in the receipt
// - Clearing price matches, if one is expected
// - Cost is quantity times clearing price and the token range covers quantity
//
// An error is returned only if the receipt cannot be decoded at all.
func ValidateReceipt(input *ValidationInput) (*ValidationResult, error) {
	result := &ValidationResult{}

	receipt, err := Verify(input.ReceiptCOSE, input.PublicKey)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Signature verification failed: %v", err))
		receipt, err = Decode(input.ReceiptCOSE)
		if err != nil {
			return nil, err
		}
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "Signature verification passed")
	}
	result.Receipt = receipt

	result.BidHashesValid = validateBidHashes(input, receipt, result)
	result.ClearingPriceValid = validateClearingPrice(input, receipt, result)
	result.SettlementValid = validateSettlement(receipt, result)

	return result, nil
}

func validateBidHashes(input *ValidationInput, receipt *ClaimReceipt, result *ValidationResult) bool {
	if receipt.BidHashNonce == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Bid hash nonce missing from receipt")
		return false
	}

	committed := make(map[string]struct{}, len(receipt.BidHashes))
	for _, h := range receipt.BidHashes {
		committed[h] = struct{}{}
	}

	valid := true
	for _, bid := range input.Bids {
		computed := core.ComputeBidHash(bid, receipt.BidHashNonce)
		if _, ok := committed[computed]; ok {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Bid %d hash found in receipt: %s", bid.ID, computed))
			continue
		}
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Bid %d hash NOT found in receipt. Computed: %s", bid.ID, computed))
		valid = false
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Total hashes in receipt: %d", len(receipt.BidHashes)))
	return valid
}

func validateClearingPrice(input *ValidationInput, receipt *ClaimReceipt, result *ValidationResult) bool {
	if input.ClearingPrice == nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Clearing price not checked: receipt has %s tez", receipt.ClearingPrice))
		return true
	}
	if *input.ClearingPrice == receipt.ClearingPrice {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Clearing price validation passed: %s tez", receipt.ClearingPrice))
		return true
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Clearing price mismatch: expected %s tez, receipt has %s tez", *input.ClearingPrice, receipt.ClearingPrice))
	return false
}

func validateSettlement(receipt *ClaimReceipt, result *ValidationResult) bool {
	cost, err := core.MulQuantity(receipt.ClearingPrice, receipt.Quantity)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Cost cannot be computed: %v", err))
		return false
	}
	if cost != receipt.Cost {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Cost mismatch: %d units at %s tez is %s tez, receipt has %s tez",
			receipt.Quantity, receipt.ClearingPrice, cost, receipt.Cost))
		return false
	}

	if receipt.Quantity > 0 && receipt.LastTokenID-receipt.FirstTokenID+1 != receipt.Quantity {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Token range %d..%d does not cover %d units",
			receipt.FirstTokenID, receipt.LastTokenID, receipt.Quantity))
		return false
	}

	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Settlement validation passed: cost %s tez, refund %s tez", receipt.Cost, receipt.Refund))
	return true
}
