package scan

import (
	"testing"

	"github.com/medguard-ai/medguard/logger"
	"github.com/stretchr/testify/assert"
)

func TestMemoryStore(t *testing.T) {
	log := logger.NewTestLogger()
	store := NewMemoryStore(log)
	runStoreContract(t, store)

	assert.Equal(t, 0, store.Len())
	assert.True(t, log.HasMessage("info", "evicted stale scan jobs"))
}
