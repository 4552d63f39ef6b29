package service_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/CZERTAINLY/herald/internal/model"
	"github.com/CZERTAINLY/herald/internal/service"
	"github.com/stretchr/testify/require"
)

func TestWriteNotifier(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	n := service.NewWriteNotifier(&buf)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			n.Notify(t.Context(), fmt.Sprintf("message %d", i))
		})
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 50)
	for _, line := range lines {
		require.True(t, strings.HasPrefix(line, "message "), line)
	}
}

func TestNotifiers(t *testing.T) {
	t.Parallel()
	var a, b recorder
	var buf bytes.Buffer
	ns := service.Notifiers{&a, nil, &b, service.NewWriteNotifier(&buf), service.NewLogNotifier(slog.LevelDebug)}
	var _ model.Notifier = ns

	ns.Notify(t.Context(), "Posted to bsky (1/1)")
	require.Equal(t, []string{"Posted to bsky (1/1)"}, a.Messages())
	require.Equal(t, []string{"Posted to bsky (1/1)"}, b.Messages())
	require.Equal(t, "Posted to bsky (1/1)\n", buf.String())
}
