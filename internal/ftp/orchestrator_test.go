package ftp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaultConnectionsLimit(t *testing.T) {
	o := New(ConnectionOptions{HostName: "ftp.example.com"})
	require.Equal(t, 2, o.limit)
	require.Equal(t, 2, cap(o.sem))
	require.Empty(t, o.Target())
}

func TestNewHonorsExplicitConnectionsLimit(t *testing.T) {
	o := New(ConnectionOptions{HostName: "ftp.example.com", ConnectionsLimit: 5})
	require.Equal(t, 5, o.limit)
}

func TestRemotePathJoinsHostName(t *testing.T) {
	o := New(ConnectionOptions{HostName: "ftp.example.com"})
	require.Equal(t, "ftp.example.com/reports/out.csv", o.remotePath("reports/out.csv"))
}

func TestRemotePathWithoutHostNameIsUnchanged(t *testing.T) {
	o := New(ConnectionOptions{})
	require.Equal(t, "reports/out.csv", o.remotePath("reports/out.csv"))
}
