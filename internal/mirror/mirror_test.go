package mirror

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/config"
	"github.com/KevinKickass/dbscada/internal/types"
)

var sampleRecord = types.TelemetryRecord{
	Table:     "apis2_pb",
	Device:    "apis2_pb",
	Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	Fields: []types.FieldValue{
		{Name: "Vbat", Raw: 2205, Divisor: 10},
		{Name: "Alarm", Raw: 4, Divisor: 1},
	},
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTT struct {
	mu           sync.Mutex
	err          error
	messages     []published
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(f.err)
}

func (f *fakeMQTT) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func TestMQTTMirrorPublishesRecord(t *testing.T) {
	client := &fakeMQTT{}
	m := newMQTTMirror(client, config.MQTTConfig{TopicPrefix: "dbscada", QoS: 1}, zap.NewNop())

	m.Observe(sampleRecord)
	require.NoError(t, m.Close())

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "dbscada/apis2_pb/apis2_pb", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, "apis2_pb", body["table"])
	values := body["values"].(map[string]any)
	assert.Equal(t, 220.5, values["Vbat"])
	assert.Equal(t, 4.0, values["Alarm"])

	assert.True(t, client.disconnected)
	assert.Equal(t, Stats{Sent: 1}, m.Stats())
}

func TestMQTTMirrorCountsFailures(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	m := newMQTTMirror(client, config.MQTTConfig{TopicPrefix: "p"}, zap.NewNop())

	m.Observe(sampleRecord)
	m.Observe(sampleRecord)
	require.NoError(t, m.Close())

	assert.Equal(t, uint64(2), m.Stats().Failed)
}

func TestNewMQTTRejectsQoS(t *testing.T) {
	_, err := NewMQTT(config.MQTTConfig{Broker: "tcp://127.0.0.1:1883", QoS: 3}, zap.NewNop())
	assert.True(t, errors.Is(err, types.ErrConfig))
	assert.True(t, errors.Is(err, ErrInvalidQoS))
}

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushed bool
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	f.flushed = true
	f.mu.Unlock()
}

func TestInfluxMirrorWritesPoints(t *testing.T) {
	w := &fakeWriter{}
	closed := false
	m := newInfluxMirror(w, func() { closed = true }, zap.NewNop())

	m.Observe(sampleRecord)
	require.NoError(t, m.Close())

	require.Len(t, w.points, 1)
	assert.True(t, w.flushed)
	assert.True(t, closed)
}

func TestPoint(t *testing.T) {
	p := Point(sampleRecord)

	assert.Equal(t, "apis2_pb", p.Name())
	assert.Equal(t, sampleRecord.Timestamp, p.Time())

	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "device", p.TagList()[0].Key)
	assert.Equal(t, "apis2_pb", p.TagList()[0].Value)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, map[string]any{"Vbat": 220.5, "Alarm": 4.0}, fields)
}

func TestObserveAfterCloseIsIgnored(t *testing.T) {
	w := &fakeWriter{}
	m := newInfluxMirror(w, nil, zap.NewNop())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	m.Observe(sampleRecord)
	assert.Empty(t, w.points)
}

func TestObserveDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	m := newMirror("slow", zap.NewNop(), func(types.TelemetryRecord) error {
		<-block
		return nil
	}, nil)

	for i := 0; i < queueSize+10; i++ {
		m.Observe(sampleRecord)
	}
	assert.GreaterOrEqual(t, m.Stats().Dropped, uint64(9))

	close(block)
	require.NoError(t, m.Close())
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "plant/apis3/apis3_motor2", Topic("plant", types.TelemetryRecord{Device: "apis3", Table: "apis3_motor2"}))
}
