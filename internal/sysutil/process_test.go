package sysutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGopsutilInspector_Self(t *testing.T) {
	img, err := GopsutilInspector{}.ImagePath(uint32(os.Getpid()))
	require.NoError(t, err)
	assert.NotEmpty(t, img)
}
