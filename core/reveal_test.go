package core

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestRevealMetadata(t *testing.T) {
	c := &recordingCollaborator{}
	a, err := NewAuction(testConfig(), c, c)
	assert.NoError(t, err)

	updates := []TokenMetadata{
		{TokenID: 0, TokenInfo: map[string][]byte{"": []byte("ipfs://token-0")}},
		{TokenID: 1, TokenInfo: map[string][]byte{"": []byte("ipfs://token-1")}},
	}

	err = a.RevealMetadata(context.Background(), alice, updates)
	check.True(t, errors.Is(err, ErrNotAuthorized))
	check.Equal(t, 0, len(c.updates))

	assert.NoError(t, a.RevealMetadata(context.Background(), admin, updates))
	check.Equal(t, [][]TokenMetadata{updates}, c.updates)
}

func TestRevealMetadata_WithoutMinter(t *testing.T) {
	a, err := NewAuction(testConfig(), nil, nil)
	assert.NoError(t, err)

	err = a.RevealMetadata(context.Background(), admin, nil)
	check.True(t, errors.Is(err, ErrInvalidCollaborator))
}
