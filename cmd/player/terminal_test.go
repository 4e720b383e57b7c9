package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guhur/plus-proche/internal/domain"
)

func TestTerminal_Fail(t *testing.T) {
	tests := map[string]struct {
		err  error
		want string
	}{
		"rule violation": {
			err:  fmt.Errorf("next round: %w", domain.ErrNotPicker),
			want: "PermissionDenied: only the picker can choose the next round\n",
		},
		"offline": {
			err:  domain.ErrNotSynced,
			want: "Unavailable: document not synced yet\n",
		},
		"other": {
			err:  fmt.Errorf("usage: answer <number>"),
			want: "error: usage: answer <number>\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			newTerminal(strings.NewReader(""), &out).fail(tc.err)
			assert.Equal(t, tc.want, out.String())
		})
	}
}

func TestTerminal_ExecWithoutSession(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(strings.NewReader(""), &out)
	ctx := context.Background()

	require.NoError(t, term.exec(ctx, "   "))
	require.NoError(t, term.exec(ctx, "HELP"))
	assert.Equal(t, help, out.String())

	assert.ErrorIs(t, term.exec(ctx, "quit"), errQuit)
	assert.ErrorIs(t, term.exec(ctx, "exit"), errQuit)

	assert.ErrorContains(t, term.exec(ctx, "dance"), `unknown command "dance"`)
	assert.ErrorContains(t, term.exec(ctx, "answer"), "usage: answer")
	assert.ErrorIs(t, term.exec(ctx, "answer douze"), domain.ErrInvalidAnswer)
	assert.ErrorContains(t, term.exec(ctx, "pick 3"), "usage: pick")
	assert.ErrorIs(t, term.exec(ctx, "pick trois Sport"), domain.ErrInvalidDifficulty)
}

func TestTerminal_LoopStopsOnQuit(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(strings.NewReader("help\nbogus\nquit\nhelp\n"), &out)

	require.NoError(t, term.loop(context.Background()))
	assert.Equal(t, help+"error: unknown command \"bogus\", type help\n", out.String())
}

func TestThemesCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"themes"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "  Culture générale\n")
	assert.Contains(t, out.String(), "  1  Très facile\n")
	assert.Contains(t, out.String(), "  5  Très difficile\n")
	assert.NotContains(t, out.String(), "niveau lycee")
}
