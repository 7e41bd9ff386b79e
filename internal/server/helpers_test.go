package server

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/cstpd/internal/auth"
	"github.com/ashita-ai/cstpd/internal/config"
)

func mustAuthTable(t *testing.T) *auth.Table {
	t.Helper()
	table, err := auth.NewTable([]config.TokenEntry{{Agent: "agent-1", Token: "s3cr3t"}})
	require.NoError(t, err)
	return table
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
