package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type failingBroker struct{ err error }

func (b failingBroker) Publish(context.Context, *Frame) error { return b.err }
func (b failingBroker) Consume(ctx context.Context, _ func(*Frame)) error {
	<-ctx.Done()
	return ctx.Err()
}
func (b failingBroker) Close() error { return nil }

func startRelay(t *testing.T, broker Broker) (*httptest.Server, *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(broker, NewMetrics(nil))
	go hub.Run(ctx)

	srv := httptest.NewServer(NewServer(hub, nil).Handler(ctx))
	t.Cleanup(srv.Close)
	return srv, hub
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func subscribe(t *testing.T, c *Client, channel string, events ...string) (Subscription, string) {
	t.Helper()
	sub, err := c.Subscribe(context.Background(), channel, events)
	require.NoError(t, err)
	select {
	case id := <-sub.Ready():
		require.NotEmpty(t, id)
		return sub, id
	case <-time.After(waitFor):
		t.Fatal("subscription was not confirmed")
		return nil, ""
	}
}

func next(t *testing.T, sub Subscription) Delivery {
	t.Helper()
	select {
	case d, ok := <-sub.Deliveries():
		require.True(t, ok, "deliveries closed")
		return d
	case <-time.After(waitFor):
		t.Fatal("no delivery")
		return Delivery{}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	in := &Frame{Kind: KindPublish, Channel: "ABC123", Event: "newVote", Data: []byte(`{"which":"A"}`), ID: "x"}
	b, err := EncodeFrame(in)
	require.NoError(t, err)

	out, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeFrame([]byte{0xc1})
	require.Error(t, err)
}

func TestHubFansOutToAllSubscribersIncludingSender(t *testing.T) {
	srv, _ := startRelay(t, NewLocalBroker())
	a, b := dial(t, srv), dial(t, srv)

	subA, idA := subscribe(t, a, "ABC123")
	subB, idB := subscribe(t, b, "ABC123")
	assert.NotEqual(t, idA, idB)

	require.NoError(t, a.Publish(context.Background(), "ABC123", "newVote", []byte(`{"which":"A"}`)))

	for _, sub := range []Subscription{subA, subB} {
		d := next(t, sub)
		assert.Equal(t, "ABC123", d.Channel)
		assert.Equal(t, "newVote", d.Event)
		assert.JSONEq(t, `{"which":"A"}`, string(d.Data))
	}
}

func TestHubKeepsChannelsApart(t *testing.T) {
	srv, _ := startRelay(t, NewLocalBroker())
	a, b := dial(t, srv), dial(t, srv)

	subA, _ := subscribe(t, a, "ROOM01")
	subB, _ := subscribe(t, b, "ROOM02")

	require.NoError(t, b.Publish(context.Background(), "ROOM02", "newVote", []byte(`{"which":"B"}`)))
	require.NoError(t, a.Publish(context.Background(), "ROOM01", "newVote", []byte(`{"which":"A"}`)))

	assert.JSONEq(t, `{"which":"A"}`, string(next(t, subA).Data))
	assert.JSONEq(t, `{"which":"B"}`, string(next(t, subB).Data))
}

func TestHubEventFilter(t *testing.T) {
	srv, _ := startRelay(t, NewLocalBroker())
	c := dial(t, srv)

	sub, _ := subscribe(t, c, "ABC123", "newVote")

	require.NoError(t, c.Publish(context.Background(), "ABC123", "offer", []byte(`{}`)))
	require.NoError(t, c.Publish(context.Background(), "ABC123", "newVote", []byte(`{"which":"B"}`)))

	assert.Equal(t, "newVote", next(t, sub).Event)
}

func TestClientCloseEndsDeliveries(t *testing.T) {
	srv, _ := startRelay(t, NewLocalBroker())
	c := dial(t, srv)
	sub, _ := subscribe(t, c, "ABC123")

	require.NoError(t, c.Close())

	select {
	case _, ok := <-sub.Deliveries():
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("deliveries not closed")
	}
	require.ErrorIs(t, c.Publish(context.Background(), "ABC123", "newVote", nil), ErrClosed)
}

func bridge(t *testing.T, s *Server, method, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, "/api/event", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeBridge(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestBridgeRequiresChannelAndEvent(t *testing.T) {
	s := NewServer(NewHub(NewLocalBroker(), nil), nil)

	for _, body := range []string{
		`{"event":"newVote","data":{"which":"A"}}`,
		`{"channel":"ABC123","data":{"which":"A"}}`,
		`{}`,
	} {
		rec, out := bridge(t, s, http.MethodPost, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "channel and event are required", out["error"])
	}
}

func TestBridgeRejectsBadInput(t *testing.T) {
	s := NewServer(NewHub(NewLocalBroker(), nil), nil)

	rec, _ := bridge(t, s, http.MethodPost, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = bridge(t, s, http.MethodGet, ``)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBridgeForwardFailure(t *testing.T) {
	s := NewServer(NewHub(failingBroker{err: errors.New("broker down")}, nil), nil)

	rec, out := bridge(t, s, http.MethodPost, `{"channel":"ABC123","event":"newVote","data":{"which":"A"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, out["error"], "broker down")
}

func TestBridgeSuccessReachesSubscribers(t *testing.T) {
	srv, _ := startRelay(t, NewLocalBroker())
	c := dial(t, srv)
	sub, _ := subscribe(t, c, "ABC123")

	pub := NewBridgePublisher(srv.URL + "/api/event")
	require.NoError(t, pub.Publish(context.Background(), "ABC123", "newVote", []byte(`{"which":"B"}`)))

	d := next(t, sub)
	assert.Equal(t, "newVote", d.Event)
	assert.JSONEq(t, `{"which":"B"}`, string(d.Data))
}

func TestBridgePublisherSurfacesErrors(t *testing.T) {
	srv, _ := startRelay(t, failingBroker{err: errors.New("broker down")})

	pub := NewBridgePublisher(srv.URL + "/api/event")
	err := pub.Publish(context.Background(), "ABC123", "newVote", []byte(`{"which":"A"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "broker down")

	require.ErrorIs(t, pub.Publish(context.Background(), "", "newVote", nil), ErrBadRequest)
}

func TestHealth(t *testing.T) {
	srv, _ := startRelay(t, NewLocalBroker())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMemoryRelay(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a, err := m.Subscribe(ctx, "ABC123", nil)
	require.NoError(t, err)
	b, err := m.Subscribe(ctx, "ABC123", []string{"newVote"})
	require.NoError(t, err)
	other, err := m.Subscribe(ctx, "ZZZ999", nil)
	require.NoError(t, err)

	idA, idB := <-a.Ready(), <-b.Ready()
	assert.NotEqual(t, idA, idB)

	require.NoError(t, m.Publish(ctx, "ABC123", "offer", []byte(`{}`)))
	require.NoError(t, m.Publish(ctx, "ABC123", "newVote", []byte(`{"which":"A"}`)))

	assert.Equal(t, "offer", next(t, a).Event)
	assert.Equal(t, "newVote", next(t, a).Event)
	assert.Equal(t, "newVote", next(t, b).Event)

	select {
	case d := <-other.Deliveries():
		t.Fatalf("unexpected delivery on other room: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Close())
	_, ok := <-a.Deliveries()
	assert.False(t, ok)
	require.ErrorIs(t, m.Publish(ctx, "", "offer", nil), ErrBadRequest)
}
