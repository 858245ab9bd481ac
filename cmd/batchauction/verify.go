package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudx-io/batchauction/auctionapi"
	"github.com/cloudx-io/batchauction/core"
	"github.com/cloudx-io/batchauction/receipt"
)

type verifyFlags struct {
	receipt       string
	publicKey     string
	bids          string
	clearingPrice string
	format        string
}

func newVerifyReceiptCmd() *cobra.Command {
	var f verifyFlags

	cmd := &cobra.Command{
		Use:   "verify-receipt",
		Short: "Verify a signed claim receipt",
		Long: `Verifies a claim receipt against the auction's public key and the bidder's own records.

Each input accepts either a file path or the value inline.

  --receipt      claim response JSON (as returned by POST /v1/claims) or base64 COSE_Sign1
  --public-key   PEM public key (GET /v1/receipts/public-key)
  --bids         JSON array of the bidder's winning bids: [{"id":1,"price":1000000,"quantity":40,"bidder":"tz1..."}]

Exit codes:
  0 - Validation passed
  1 - Validation failed
  2 - Invalid input or runtime error`,
		Run: func(cmd *cobra.Command, _ []string) {
			os.Exit(runVerify(cmd.OutOrStdout(), cmd.ErrOrStderr(), f))
		},
	}

	cmd.Flags().StringVar(&f.receipt, "receipt", "", "claim response JSON or base64 COSE receipt (file path or inline)")
	cmd.Flags().StringVar(&f.publicKey, "public-key", "", "PEM public key (file path or inline)")
	cmd.Flags().StringVar(&f.bids, "bids", "", "winning bids JSON (file path or inline)")
	cmd.Flags().StringVar(&f.clearingPrice, "clearing-price-tez", "", "expected clearing price in tez")
	cmd.Flags().StringVar(&f.format, "format", "text", "Output format: text or json")
	_ = cmd.MarkFlagRequired("receipt")
	_ = cmd.MarkFlagRequired("public-key")
	return cmd
}

func runVerify(stdout, stderr io.Writer, f verifyFlags) int {
	input, err := extractValidationInput(f)
	if err != nil {
		fmt.Fprintf(stderr, "Error extracting validation data: %v\n", err)
		return exitInputError
	}

	result, err := receipt.ValidateReceipt(input)
	if err != nil {
		fmt.Fprintf(stderr, "Validation error: %v\n", err)
		return exitInputError
	}

	if f.format == "json" {
		if err := outputJSON(stdout, result); err != nil {
			fmt.Fprintf(stderr, "Error marshaling JSON: %v\n", err)
			return exitInputError
		}
	} else {
		outputText(stdout, result)
	}

	if !result.IsValid() {
		return exitInvalid
	}
	return exitOK
}

func readInput(input string) []byte {
	// Try reading as file first
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	// Treat as inline value
	return []byte(input)
}

func extractValidationInput(f verifyFlags) (*receipt.ValidationInput, error) {
	coseBytes, err := parseReceipt(readInput(f.receipt))
	if err != nil {
		return nil, err
	}

	pub, err := receipt.ParsePublicKeyPEM(string(readInput(f.publicKey)))
	if err != nil {
		return nil, err
	}

	var bids []core.Bid
	if f.bids != "" {
		if err := json.Unmarshal(readInput(f.bids), &bids); err != nil {
			return nil, fmt.Errorf("parse bids: %w", err)
		}
	}

	input := &receipt.ValidationInput{
		ReceiptCOSE: coseBytes,
		PublicKey:   pub,
		Bids:        bids,
	}
	if f.clearingPrice != "" {
		price, err := core.ParseTez(f.clearingPrice)
		if err != nil {
			return nil, err
		}
		input.ClearingPrice = &price
	}
	return input, nil
}

// parseReceipt accepts a claim response JSON document or the bare base64 receipt.
func parseReceipt(data []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var resp auctionapi.ClaimResponse
		if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
			return nil, fmt.Errorf("parse claim response: %w", err)
		}
		if resp.ReceiptCOSEBase64 == "" {
			return nil, fmt.Errorf("missing 'receipt_cose_base64' in claim response")
		}
		return resp.ReceiptCOSEBase64.Decode()
	}
	return auctionapi.ReceiptCOSEBase64(trimmed).Decode()
}

func outputText(w io.Writer, result *receipt.ValidationResult) {
	fmt.Fprintln(w, "Claim Receipt Validator")
	fmt.Fprintln(w, "=======================")
	fmt.Fprintln(w)

	if r := result.Receipt; r != nil {
		fmt.Fprintln(w, "Receipt:")
		fmt.Fprintf(w, "  ID:              %s\n", r.ID)
		fmt.Fprintf(w, "  Auction:         %s\n", r.AuctionID)
		fmt.Fprintf(w, "  Bidder:          %s\n", r.Bidder)
		fmt.Fprintf(w, "  Clearing Price:  %s tez\n", r.ClearingPrice)
		fmt.Fprintf(w, "  Quantity:        %d\n", r.Quantity)
		fmt.Fprintf(w, "  Cost:            %s tez\n", r.Cost)
		fmt.Fprintf(w, "  Refund:          %s tez\n", r.Refund)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Signature Valid:       %v\n", result.SignatureValid)
	fmt.Fprintf(w, "  Bid Hashes Valid:      %v\n", result.BidHashesValid)
	fmt.Fprintf(w, "  Clearing Price Valid:  %v\n", result.ClearingPriceValid)
	fmt.Fprintf(w, "  Settlement Valid:      %v\n", result.SettlementValid)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Fprintf(w, "  - %s\n", detail)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=======================")
	if result.IsValid() {
		fmt.Fprintln(w, "VALIDATION: ✓ PASSED")
	} else {
		fmt.Fprintln(w, "VALIDATION: ✗ FAILED")
	}
}

func outputJSON(w io.Writer, result *receipt.ValidationResult) error {
	output := map[string]any{
		"valid":                result.IsValid(),
		"signature_valid":      result.SignatureValid,
		"bid_hashes_valid":     result.BidHashesValid,
		"clearing_price_valid": result.ClearingPriceValid,
		"settlement_valid":     result.SettlementValid,
		"receipt":              result.Receipt,
		"details":              result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
