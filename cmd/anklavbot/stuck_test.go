package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/susu3304/anklavbot/internal/equity"
	"github.com/susu3304/anklavbot/internal/memstore"
)

func TestListStuck(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, listStuck(ctx, st, cmd, zaptest.NewLogger(t)))
	assert.Equal(t, "no stuck rooms\n", out.String())

	for _, id := range []string{"done", "lost", "open"} {
		require.NoError(t, st.CreateRoom(ctx, &equity.Group{ID: id, Capacity: 2, Members: []string{"A", "B"}}))
	}
	for _, id := range []string{"done", "lost"} {
		g, err := st.Claim(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, g)
	}
	require.NoError(t, st.CreateArchive(ctx, &equity.Archived{Group: equity.Group{ID: "done"}}))

	out.Reset()
	require.NoError(t, listStuck(ctx, st, cmd, zaptest.NewLogger(t)))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ROOM"))
	assert.Contains(t, out.String(), "done")
	assert.Contains(t, out.String(), "lost")
	assert.NotContains(t, out.String(), "open")
	assert.True(t, strings.HasSuffix(lines[1], "true") || strings.HasSuffix(lines[2], "true"))
	assert.True(t, strings.HasSuffix(lines[1], "false") || strings.HasSuffix(lines[2], "false"))
}
