package service_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/herald/internal/model"
	"github.com/CZERTAINLY/herald/internal/service"
	"github.com/stretchr/testify/require"
)

// catTo returns a command storing its standard input into path.
func catTo(sh, path string) []string {
	return []string{sh, "-c", `cat > "$0"`, path}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	dir := t.TempDir()

	reg := model.Registry{
		"bsky": catTo(sh, filepath.Join(dir, "bsky.txt")),
		"toot": catTo(sh, filepath.Join(dir, "toot.txt")),
	}
	text := strings.Repeat("x", 49) + "!"

	var rec recorder
	b := service.NewBroadcaster(&rec)
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: text, MaxLength: 300}, model.Services{"bsky", "toot"}, reg)
	require.NoError(t, err)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", d.ID.String())

	outcomes := wait(t, d)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.Equal(t, model.StatusCompleted, o.Status, o.Service)
		require.NoError(t, o.Err)
		require.Equal(t, 0, o.ExitCode)
		require.False(t, o.Stopped.Before(o.Started))
	}

	for _, name := range []string{"bsky.txt", "toot.txt"} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		require.Equal(t, text, string(b))
	}

	msgs := rec.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "Sending to bsky, toot...", msgs[0])
	// services finish in any order, the counter does not
	require.Regexp(t, `^Posted to (bsky|toot) \(1/2\)$`, msgs[1])
	require.Regexp(t, `^Posted to (bsky|toot) \(2/2\)$`, msgs[2])
	require.NotEqual(t, msgs[1][:len("Posted to bsky")], msgs[2][:len("Posted to bsky")])
	require.Equal(t, "Successfully posted to all 2 services", msgs[3])
}

func TestBroadcast_Env(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	path := filepath.Join(t.TempDir(), "env.txt")
	reg := model.Registry{"env": {sh, "-c", `printf %s "$HERALD_TOKEN" > "$0"`, path}}

	b := service.NewBroadcaster(nil).WithEnv([]string{"HERALD_TOKEN=secret"})
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: "hello", MaxLength: 300}, model.Services{"env"}, reg)
	require.NoError(t, err)
	outcomes := wait(t, d)
	require.Equal(t, model.StatusCompleted, outcomes[0].Status)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "secret", string(got))
}

func TestBroadcast_TooLong(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	marker := filepath.Join(t.TempDir(), "spawned")
	reg := model.Registry{"bsky": catTo(sh, marker)}

	var rec recorder
	b := service.NewBroadcaster(&rec)
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: strings.Repeat("a", 301), MaxLength: 300}, model.Services{"bsky"}, reg)
	require.Nil(t, d)
	require.Error(t, err)
	var tooLong *model.TooLongError
	require.ErrorAs(t, err, &tooLong)
	require.Contains(t, err.Error(), "301")
	require.Contains(t, err.Error(), "300")

	require.Empty(t, rec.Messages())
	require.NoFileExists(t, marker)
}

func TestBroadcast_Blank(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"", "   ", "\n\t\n"} {
		var rec recorder
		b := service.NewBroadcaster(&rec)
		// a single character limit proves blank text never reaches the validator
		d, err := b.Broadcast(t.Context(), model.PostRequest{Text: text, MaxLength: 1}, model.Services{"bsky"}, model.Registry{"bsky": {"false"}})
		require.NoError(t, err)
		require.Empty(t, wait(t, d))
		require.Equal(t, []string{"Nothing to post"}, rec.Messages())
	}
}

func TestBroadcast_NoServices(t *testing.T) {
	t.Parallel()
	var rec recorder
	b := service.NewBroadcaster(&rec)
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: "hello", MaxLength: 300}, nil, model.Registry{})
	require.NoError(t, err)
	require.Empty(t, wait(t, d))
	require.Equal(t, []string{"Sending... no services configured"}, rec.Messages())
}

func TestBroadcast_UnknownService(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	reg := model.Registry{"a": {sh, "-c", "cat > /dev/null"}}

	var rec recorder
	b := service.NewBroadcaster(&rec)
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: "hello", MaxLength: 300}, model.Services{"a", "b"}, reg)
	require.NoError(t, err)
	outcomes := wait(t, d)
	require.Len(t, outcomes, 2)

	unknown := outcomeOf(t, outcomes, "b")
	require.Equal(t, model.StatusUnknownService, unknown.Status)
	require.ErrorIs(t, unknown.Err, model.ErrUnknownService)
	require.Equal(t, model.StatusCompleted, outcomeOf(t, outcomes, "a").Status)

	// unknown services do not count toward the total
	require.Equal(t, []string{
		"Sending to a, b...",
		"Unknown service: b",
		"Posted to a (1/1)",
		"Successfully posted to all 1 services",
	}, rec.Messages())
}

func TestBroadcast_OnlyUnknown(t *testing.T) {
	t.Parallel()
	var rec recorder
	b := service.NewBroadcaster(&rec)
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: "hello", MaxLength: 300}, model.Services{"x"}, model.Registry{})
	require.NoError(t, err)
	require.Len(t, wait(t, d), 1)
	require.Equal(t, []string{"Sending to x...", "Unknown service: x"}, rec.Messages())
}

func TestBroadcast_Failures(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	reg := model.Registry{
		"ok":      {sh, "-c", "cat > /dev/null"},
		"broken":  {sh, "-c", "cat > /dev/null; echo 'auth failed' 1>&2; exit 3"},
		"missing": {"herald-does-not-exist"},
	}

	var rec recorder
	b := service.NewBroadcaster(&rec)
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: "hello", MaxLength: 300}, model.Services{"ok", "broken", "missing"}, reg)
	require.NoError(t, err)
	outcomes := wait(t, d)
	require.Len(t, outcomes, 3)

	broken := outcomeOf(t, outcomes, "broken")
	require.Equal(t, model.StatusFailed, broken.Status)
	require.Equal(t, 3, broken.ExitCode)
	require.EqualError(t, broken.Err, "exit code 3")

	missing := outcomeOf(t, outcomes, "missing")
	require.Equal(t, model.StatusDispatchFailed, missing.Status)
	require.Equal(t, -1, missing.ExitCode)
	require.ErrorContains(t, missing.Err, "starting herald-does-not-exist")

	msgs := rec.Messages()
	require.Equal(t, "Sending to ok, broken, missing...", msgs[0])
	require.Equal(t, 1, rec.Count("Posted to ok (1/3)"))
	require.Equal(t, 1, rec.Count("Failed to post to broken: exit code 3"))
	require.Contains(t, strings.Join(msgs, "\n"), "Failed to post to missing: starting herald-does-not-exist")
	require.Equal(t, "Posted to 1 of 3 services", msgs[len(msgs)-1])
	require.Zero(t, rec.Count("Successfully posted to all 3 services"))
}

func TestBroadcast_Timeout(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	reg := model.Registry{"slow": {sh, "-c", "sleep 5"}}

	var rec recorder
	b := service.NewBroadcaster(&rec).WithTimeout(100 * time.Millisecond)
	start := time.Now()
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: "hello", MaxLength: 300}, model.Services{"slow"}, reg)
	require.NoError(t, err)
	outcomes := wait(t, d)
	require.Less(t, time.Since(start), 4*time.Second)
	require.Len(t, outcomes, 1)
	require.Equal(t, model.StatusFailed, outcomes[0].Status)
	require.ErrorIs(t, outcomes[0].Err, service.ErrTimeout)
	require.Equal(t, 1, rec.Count("Failed to post to slow: timed out after 100ms: signal: killed"))
	require.Equal(t, "Posted to 0 of 1 services", rec.Messages()[len(rec.Messages())-1])
}

func TestBroadcast_ReturnsBeforeCompletion(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	reg := model.Registry{"slow": {sh, "-c", "cat > /dev/null; sleep 0.3"}}

	var rec recorder
	b := service.NewBroadcaster(&rec)
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: "hello", MaxLength: 300}, model.Services{"slow"}, reg)
	require.NoError(t, err)

	select {
	case <-d.Done():
		t.Fatal("broadcast waited for the process")
	default:
	}
	require.Equal(t, []string{"Sending to slow..."}, rec.Messages())

	wait(t, d)
	require.Equal(t, "Successfully posted to all 1 services", rec.Messages()[2])
}

func TestBroadcast_Concurrent(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	slow := []string{sh, "-c", "cat > /dev/null; sleep 0.2"}
	reg := model.Registry{
		"a1": slow, "a2": slow,
		"b1": slow, "b2": slow, "b3": slow,
	}

	var rec recorder
	b := service.NewBroadcaster(&rec)
	req := model.PostRequest{Text: "hello", MaxLength: 300}
	d1, err := b.Broadcast(t.Context(), req, model.Services{"a1", "a2"}, reg)
	require.NoError(t, err)
	d2, err := b.Broadcast(t.Context(), req, model.Services{"b1", "b2", "b3"}, reg)
	require.NoError(t, err)
	require.NotEqual(t, d1.ID, d2.ID)

	require.Len(t, wait(t, d1), 2)
	require.Len(t, wait(t, d2), 3)

	require.Equal(t, 1, rec.Count("Successfully posted to all 2 services"))
	require.Equal(t, 1, rec.Count("Successfully posted to all 3 services"))
	for _, m := range rec.Messages() {
		switch {
		case strings.HasPrefix(m, "Posted to a"):
			require.True(t, strings.HasSuffix(m, "/2)"), m)
		case strings.HasPrefix(m, "Posted to b"):
			require.True(t, strings.HasSuffix(m, "/3)"), m)
		}
	}
}

func TestBroadcast_ReconfigureInFlight(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	reg := model.Registry{
		"a": {sh, "-c", "cat > /dev/null; sleep 0.2"},
		"b": {sh, "-c", "cat > /dev/null; sleep 0.2"},
	}
	services := model.Services{"a", "b"}

	var rec recorder
	b := service.NewBroadcaster(&rec)
	d, err := b.Broadcast(t.Context(), model.PostRequest{Text: "hello", MaxLength: 300}, services, reg)
	require.NoError(t, err)

	services[1] = "c"
	delete(reg, "b")
	reg["a"] = []string{"herald-does-not-exist"}

	outcomes := wait(t, d)
	require.Len(t, outcomes, 2)
	require.Equal(t, model.StatusCompleted, outcomeOf(t, outcomes, "a").Status)
	require.Equal(t, model.StatusCompleted, outcomeOf(t, outcomes, "b").Status)
	require.Equal(t, 1, rec.Count("Successfully posted to all 2 services"))
}

func TestBroadcast_Cancel(t *testing.T) {
	t.Parallel()
	sh := lookSh(t)
	reg := model.Registry{"slow": {sh, "-c", "sleep 5"}}

	var rec recorder
	b := service.NewBroadcaster(&rec)
	ctx, cancel := context.WithCancel(t.Context())
	d, err := b.Broadcast(ctx, model.PostRequest{Text: "hello", MaxLength: 300}, model.Services{"slow"}, reg)
	require.NoError(t, err)
	// let the command start, so it gets killed rather than never spawned
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch not finished after cancel")
	}

	outcomes := d.Outcomes()
	require.Len(t, outcomes, 1)
	require.Equal(t, model.StatusFailed, outcomes[0].Status)
	require.ErrorIs(t, outcomes[0].Err, context.Canceled)
	require.Equal(t, []string{
		"Sending to slow...",
		"Failed to post to slow: context canceled: signal: killed",
		"Posted to 0 of 1 services",
	}, rec.Messages())
}
