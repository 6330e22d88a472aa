package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/txfeed/service/feed"
	natspkg "github.com/brojonat/txfeed/service/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

// readEvents parses an SSE stream into a channel, skipping comments.
func readEvents(body *bufio.Scanner) <-chan sseEvent {
	out := make(chan sseEvent)
	go func() {
		defer close(out)
		var ev sseEvent
		for body.Scan() {
			line := body.Text()
			switch {
			case line == "":
				if ev.name != "" {
					out <- ev
				}
				ev = sseEvent{}
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for SSE event")
	}
	return sseEvent{}
}

func TestStreamFeed(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/stream/feed/"+testWallet+"?context=exchange", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(bufio.NewScanner(resp.Body))

	first := nextEvent(t, events)
	assert.Equal(t, "presentation", first.name)
	p := decodePresentation(t, []byte(first.data))
	assert.Equal(t, feed.StateLoading, p.State)
	assert.True(t, p.Loading)

	second := decodePresentation(t, []byte(nextEvent(t, events).data))
	assert.Equal(t, feed.StateEmpty, second.State)

	select {
	case wallet := <-env.nats.Subscribed():
		assert.Equal(t, testWallet, wallet)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for subscription")
	}

	rec := transferRecord("sig1", testNow, "3")
	env.store.addRecords(testWallet, rec)
	require.NoError(t, env.nats.PublishRecord(ctx, natspkg.NewRecordEvent(testWallet, natspkg.SourceChain, rec)))

	third := nextEvent(t, events)
	assert.Equal(t, "presentation", third.name)
	p = decodePresentation(t, []byte(third.data))
	assert.Equal(t, feed.StateFlat, p.State)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "sig1", p.Items[0].Hash)
	assert.Equal(t, feed.StrategyCeloTransfer, p.Items[0].Strategy)
}

func TestStreamFeed_IgnoresOtherWallets(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/stream/feed/"+testWallet, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readEvents(bufio.NewScanner(resp.Body))
	nextEvent(t, events)
	nextEvent(t, events)
	<-env.nats.Subscribed()

	env.store.mu.Lock()
	before := env.store.listCalls
	env.store.mu.Unlock()
	require.NoError(t, env.nats.PublishRecord(ctx, natspkg.NewRecordEvent(testPeer, natspkg.SourceChain, transferRecord("x", testNow, "1"))))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %q", ev.name)
	case <-time.After(200 * time.Millisecond):
	}
	env.store.mu.Lock()
	assert.Equal(t, before, env.store.listCalls)
	env.store.mu.Unlock()
}

func TestStreamFeed_BadRequest(t *testing.T) {
	env := newTestEnv(t)

	w := doRequest(t, env.server.Handler(), "GET", "/api/v1/stream/feed/"+testWallet+"?context=nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
