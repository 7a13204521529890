package common

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayoutKey(t *testing.T) {
	require.Equal(t, "logs/a.txn", LayoutConfig{}.Key("logs/", "a.txn"))
	require.Equal(t, "logs/host-a/a.txn", LayoutConfig{Subdir: "host-a"}.Key("logs/", "a.txn"))
	require.Equal(t, "logs/host-a/a.txn", LayoutConfig{Subdir: "/host-a/"}.Key("logs/", "a.txn"))
	require.Equal(t, "a.txn", LayoutConfig{}.Key("", "a.txn"))
}

func TestParseStoreArgs(t *testing.T) {
	var args struct {
		LayoutConfig
		Region string
	}
	var u, _ = url.Parse("s3://bucket/prefix/?Subdir=host-a&Region=us-east-1")
	require.NoError(t, ParseStoreArgs(u, &args))
	require.Equal(t, "host-a", args.Subdir)
	require.Equal(t, "us-east-1", args.Region)

	u, _ = url.Parse("s3://bucket/prefix/?Bogus=1")
	require.Error(t, ParseStoreArgs(u, &args))
}
