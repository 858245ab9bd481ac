package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/batchauction/core"
)

// Instruction kinds.
const (
	KindMint           = "mint"
	KindUpdateMetadata = "update_metadata"
	KindTransfer       = "transfer"
)

// Instruction is a request for an external system (token contract, payment rail)
// to act. Mints and claim transfers carry an id derived from what they settle, so a
// retried claim resends the same ids and the consumer can drop duplicates.
type Instruction struct {
	ID        uuid.UUID            `json:"id"`
	Kind      string               `json:"kind"`
	AuctionID string               `json:"auction_id"`
	Mint      *core.MintRequest    `json:"mint,omitempty"`
	Metadata  []core.TokenMetadata `json:"metadata,omitempty"`
	To        core.Address         `json:"to,omitempty"`
	Amount    core.Mutez           `json:"amount,omitempty"`
	Claimant  core.Address         `json:"claimant,omitempty"`
	Leg       core.TransferLeg     `json:"leg,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

var instructionNamespace = uuid.MustParse("6f1c7a52-3b8e-4d0a-9c61-2f4e8b7d1a90")

// InstructionID is the deterministic id of an instruction identified by parts.
func InstructionID(auctionID string, parts ...string) uuid.UUID {
	name := auctionID + "|" + strings.Join(parts, "|")
	return uuid.NewSHA1(instructionNamespace, []byte(name))
}

func writeInstruction(ctx context.Context, w messageWriter, key string, in Instruction) error {
	value, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s instruction: %w", in.Kind, err)
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Time: in.Timestamp})
}

// KafkaMinter implements core.Minter by writing acknowledged instructions to the
// mint topic. A Mint returns only once the broker has accepted the instruction.
type KafkaMinter struct {
	auctionID string
	writer    messageWriter
	log       *logrus.Entry
	now       func() time.Time
}

func NewKafkaMinter(auctionID string, brokers []string, topic string, log *logrus.Entry) *KafkaMinter {
	return newKafkaMinter(auctionID, NewWriter(brokers, topic), log.WithField("topic", topic))
}

func newKafkaMinter(auctionID string, w messageWriter, log *logrus.Entry) *KafkaMinter {
	return &KafkaMinter{
		auctionID: auctionID,
		writer:    w,
		log:       log.WithField("package", "events"),
		now:       time.Now,
	}
}

func (m *KafkaMinter) Mint(ctx context.Context, req core.MintRequest) error {
	tokenID := strconv.FormatUint(req.TokenID, 10)
	err := writeInstruction(ctx, m.writer, tokenID, Instruction{
		ID:        InstructionID(m.auctionID, string(req.Recipient), KindMint, tokenID),
		Kind:      KindMint,
		AuctionID: m.auctionID,
		Mint:      &req,
		Timestamp: m.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to send mint of token %d: %w", req.TokenID, err)
	}
	return nil
}

func (m *KafkaMinter) UpdateTokenMetadata(ctx context.Context, updates []core.TokenMetadata) error {
	err := writeInstruction(ctx, m.writer, m.auctionID, Instruction{
		ID:        uuid.New(),
		Kind:      KindUpdateMetadata,
		AuctionID: m.auctionID,
		Metadata:  updates,
		Timestamp: m.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to send metadata update: %w", err)
	}
	m.log.WithField("tokens", len(updates)).Info("sent metadata update")
	return nil
}

func (m *KafkaMinter) Close() error {
	return m.writer.Close()
}

// KafkaPayer implements core.Payer on the payments topic, keyed by recipient.
type KafkaPayer struct {
	auctionID string
	writer    messageWriter
	log       *logrus.Entry
	now       func() time.Time
}

func NewKafkaPayer(auctionID string, brokers []string, topic string, log *logrus.Entry) *KafkaPayer {
	return newKafkaPayer(auctionID, NewWriter(brokers, topic), log.WithField("topic", topic))
}

func newKafkaPayer(auctionID string, w messageWriter, log *logrus.Entry) *KafkaPayer {
	return &KafkaPayer{
		auctionID: auctionID,
		writer:    w,
		log:       log.WithField("package", "events"),
		now:       time.Now,
	}
}

// Transfer sends a payment instruction. Transfers made for a claim leg get a stable
// id; any other transfer gets a random one.
func (p *KafkaPayer) Transfer(ctx context.Context, to core.Address, amount core.Mutez) error {
	in := Instruction{
		ID:        uuid.New(),
		Kind:      KindTransfer,
		AuctionID: p.auctionID,
		To:        to,
		Amount:    amount,
		Timestamp: p.now(),
	}
	if ref, ok := core.TransferRefFrom(ctx); ok {
		in.ID = InstructionID(p.auctionID, string(ref.Claimant), KindTransfer, string(ref.Leg))
		in.Claimant, in.Leg = ref.Claimant, ref.Leg
	}
	err := writeInstruction(ctx, p.writer, string(to), in)
	if err != nil {
		return fmt.Errorf("failed to send transfer of %s tez to %s: %w", amount, to, err)
	}
	p.log.WithFields(logrus.Fields{
		"to":     to,
		"amount": amount.String(),
	}).Debug("sent transfer")
	return nil
}

func (p *KafkaPayer) Close() error {
	return p.writer.Close()
}
