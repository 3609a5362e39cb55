package eventpipe

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semafor/command"
)

func TestNew_Disabled(t *testing.T) {
	ep, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, ep)
	assert.NoError(t, ep.Close())
}

func TestEventPipe_DeliversCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semafor.cmd")
	got := make(chan command.Command, 10)
	ep, err := New(Config{Path: path}, func(cmd command.Command) string {
		got <- cmd
		return "ok"
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		ep.Start()
		close(done)
	}()

	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.WriteString("# rig test\nstart\nbogus\n\ngate 6.5\nnight on\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var kinds []command.Kind
	for len(kinds) < 3 {
		select {
		case cmd := <-got:
			kinds = append(kinds, cmd.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %v", kinds)
		}
	}
	assert.Equal(t, []command.Kind{command.Start, command.GateTo, command.NightOn}, kinds)

	require.NoError(t, ep.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
