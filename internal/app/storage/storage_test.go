package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMemory(t *testing.T) {
	stores := NewMemory()
	assert.NotNil(t, stores.Rounds)
	assert.NotNil(t, stores.Ledger)
	assert.NotNil(t, stores.Requests)
}
