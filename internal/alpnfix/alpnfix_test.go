package alpnfix

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestALPNEnforcementSet(t *testing.T) {
	_, ok := os.LookupEnv(EnvVar)
	assert.True(t, ok)
}
