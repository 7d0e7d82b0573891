package ftp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	d := DefaultOptions()
	require.Equal(t, 4096, d.BufferSize)
	require.True(t, d.UseBinary)
	require.True(t, d.UsePassive)
	require.Equal(t, 2, d.ConnectionsLimit)
}

func TestMergeFillsZeroFieldsFromDefault(t *testing.T) {
	def := ConnectionOptions{
		BufferSize:       8192,
		HostName:         "ftp.example.com",
		ConnectionsLimit: 3,
	}
	override := ConnectionOptions{HostName: "other.example.com"}

	merged := override.merge(def)
	require.Equal(t, "other.example.com", merged.HostName)
	require.Equal(t, 8192, merged.BufferSize)
	require.Equal(t, 3, merged.ConnectionsLimit)
}

func TestMergePreservesExplicitOverride(t *testing.T) {
	def := ConnectionOptions{BufferSize: 8192}
	override := ConnectionOptions{BufferSize: 1024}

	merged := override.merge(def)
	require.Equal(t, 1024, merged.BufferSize)
}
