package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "v1.2.3"

	assert.Equal(t, "v1.2.3", Short())
	assert.Contains(t, Info(), "llmrelay v1.2.3")
	assert.Contains(t, Info(), runtime.Version())
}
