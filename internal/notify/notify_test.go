package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *recordingSender) Send(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("downstream unavailable")
	}
	s.events = append(s.events, evt)
	return nil
}

func setupRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestChannelPublishNeverBlocks(t *testing.T) {
	ch := NewChannel(1)
	ctx := context.Background()
	require.NoError(t, ch.Publish(ctx, Event{Type: TypeQCFailed}))
	assert.ErrorIs(t, ch.Publish(ctx, Event{Type: TypeQCFailed}), ErrQueueFull)
	assert.Len(t, ch.Drain(), 1)
	assert.Empty(t, ch.Drain())
}

func TestRedisStreamWorkerDeliversAndAcks(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	pub := RedisStream{Client: client, Stream: "notifications"}
	sender := &recordingSender{}
	w := Worker{Client: client, Stream: "notifications", Group: "notifiers", Consumer: "w1", Sender: sender, Block: -1}
	require.NoError(t, w.EnsureGroup(ctx))
	require.NoError(t, w.EnsureGroup(ctx))

	require.NoError(t, pub.Publish(ctx, Event{Type: TypeSparesRequested, DeviceID: "dev-1", Message: "RAM-001:2"}))
	require.NoError(t, pub.Publish(ctx, Event{Type: TypeQCFailed, DeviceID: "dev-2", Recipient: "l2-a"}))

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sender.events, 2)
	assert.Equal(t, "dev-1", sender.events[0].DeviceID)
	assert.Equal(t, "l2-a", sender.events[1].Recipient)

	pending, err := client.XPending(ctx, "notifications", "notifiers").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending.Count)

	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedisStreamWorkerKeepsFailedPending(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	sender := &recordingSender{fail: true}
	w := Worker{Client: client, Stream: "notifications", Group: "notifiers", Consumer: "w1", Sender: sender, Block: -1}
	require.NoError(t, w.EnsureGroup(ctx))
	require.NoError(t, RedisStream{Client: client, Stream: "notifications"}.Publish(ctx, Event{Type: TypeWorkDispatched}))

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := client.XPending(ctx, "notifications", "notifiers").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending.Count)

	sender.fail = false
	n, err = w.read(ctx, "0")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWebhookSender(t *testing.T) {
	var got Event
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Refurbline-Event")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, time.Second)
	require.NoError(t, s.Send(context.Background(), Event{Type: TypeQCFailed, DeviceID: "dev-9"}))
	assert.Equal(t, TypeQCFailed, header)
	assert.Equal(t, "dev-9", got.DeviceID)
}

func TestWebhookSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, time.Second).Send(context.Background(), Event{Type: TypeQCFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t fakeToken) Error() error { return t.err }

type fakeMQTT struct {
	mqtt.Client
	topics []string
	qos    []byte
}

func (c *fakeMQTT) Publish(topic string, qos byte, _ bool, _ interface{}) mqtt.Token {
	c.topics = append(c.topics, topic)
	c.qos = append(c.qos, qos)
	return fakeToken{}
}

func TestMQTTPublisherTopic(t *testing.T) {
	client := &fakeMQTT{}
	p := MQTTPublisher{Client: client, TopicPrefix: "refurbline/", QoS: 1}
	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeRackUnplaced}))
	assert.Equal(t, []string{"refurbline/rack.unplaced"}, client.topics)
	assert.Equal(t, []byte{1}, client.qos)
	assert.Equal(t, "qc.failed", MQTTPublisher{}.Topic(TypeQCFailed))
}
