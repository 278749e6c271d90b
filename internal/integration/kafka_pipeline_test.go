//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/kafka"
	"github.com/couchcryptid/incident-enrichment-service/internal/adminarea"
	"github.com/couchcryptid/incident-enrichment-service/internal/config"
	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/enrich"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
	"github.com/couchcryptid/incident-enrichment-service/internal/pipeline"
)

const (
	testSourceTopic = "test-source"
	testSinkTopic   = "test-sink"
)

var baseDate = time.Date(2024, time.April, 26, 0, 0, 0, 0, time.UTC)

// hazardReports covers each hazard family. The quake sits inside the test
// county; the flood polygon straddles both.
var hazardReports = []string{
	`{"id":"us7000quake","type":"earthquake","magnitude":5.5,"title":"M 5.5 - Central Texas","evidence_url":"https://earthquake.usgs.gov/us7000quake","geojson":{"type":"Point","coordinates":[-97.75,30.25]}}`,
	`{"id":"nws-flood","type":"NWS.Alert","severity":"Severe","title":"Flash Flood Warning","geojson":{"type":"Polygon","coordinates":[[[-97.9,30.4],[-97.6,30.4],[-97.6,30.7],[-97.9,30.7],[-97.9,30.4]]]}}`,
	`{"id":"firms-1","type":"wildfire","geojson":"{\"type\":\"Point\",\"coordinates\":[-120.5,38.9]}"}`,
	`{"id":"nhc-al01","type":"hurricane","severity":"extreme"}`,
}

// sinkMessage holds a deserialized message read from the sink topic.
type sinkMessage struct {
	Card    domain.IncidentCard
	Key     string
	Headers map[string]string
}

func readCard(ctx context.Context, t *testing.T, consumer *kafkago.Reader) sinkMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var card domain.IncidentCard
	require.NoError(t, json.Unmarshal(msg.Value, &card), "unmarshal sink message")

	return sinkMessage{Card: card, Key: string(msg.Key), Headers: headers}
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
		BatchFlushInterval: 5 * time.Second,
	}
}

func testBuilder() *enrich.Builder {
	resolver := adminarea.NewResolver([]adminarea.Boundary{
		{Code: "48453", Name: "Travis County", Area: orb.MultiPolygon{{{{-98.2, 30.0}, {-97.4, 30.0}, {-97.4, 30.5}, {-98.2, 30.5}, {-98.2, 30.0}}}}},
		{Code: "48491", Name: "Williamson County", Area: orb.MultiPolygon{{{{-98.2, 30.5}, {-97.4, 30.5}, {-97.4, 30.9}, {-98.2, 30.9}, {-98.2, 30.5}}}}},
	})
	return enrich.NewBuilder(geometry.NewRegistry(), enrich.Sources{Admin: resolver},
		observability.NewMetricsForTesting(), discardLogger())
}

func produce(ctx context.Context, t *testing.T, broker string, msgs ...kafkago.Message) {
	t.Helper()
	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx, msgs...))
}

func sinkConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestKafkaReaderWriter verifies the adapter layer: kafka.Reader (Extractor) and
// kafka.Writer (Loader) correctly round-trip a message through Kafka.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-reader")

	payload := []byte(hazardReports[0])
	produce(ctx, t, broker, kafkago.Message{Key: []byte("test-key"), Value: payload, Time: baseDate})

	// Retry because the consumer group may need time to rebalance before
	// partitions are assigned and messages become available.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	var batch []domain.RawEvent
	for {
		var err error
		batch, err = reader.ExtractBatch(ctx, 1)
		require.NoError(t, err)
		if len(batch) > 0 {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for message from source topic")
		}
	}
	require.Len(t, batch, 1)
	raw := batch[0]
	assert.Equal(t, []byte("test-key"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testSourceTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	transformer := pipeline.NewTransformer(testBuilder(), 10*time.Second, discardLogger())
	card, err := transformer.Transform(ctx, raw)
	require.NoError(t, err)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	require.NoError(t, writer.LoadBatch(ctx, []domain.IncidentCard{card}))

	msg := readCard(ctx, t, sinkConsumer(t, broker))
	assert.Equal(t, "us7000quake", msg.Key)
	assert.Equal(t, "seismic", msg.Headers["hazard_type"])
	assert.Equal(t, "moderate", msg.Headers["severity"])
	_, err = time.Parse(time.RFC3339, msg.Headers["built_at"])
	assert.NoError(t, err, "built_at should be valid RFC3339")

	assert.Equal(t, []domain.AdminArea{{Code: "48453", Name: "Travis County"}}, msg.Card.AdminAreas.Value)
	assert.True(t, len(msg.Card.GeometryRef) > len(geometry.KeyPrefix))
}

// TestPipelineEndToEnd wires the full pipeline (Reader → Transformer → Writer)
// with real Kafka and verifies every report becomes a card.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-pipeline")

	msgs := make([]kafkago.Message, len(hazardReports))
	for i, r := range hazardReports {
		msgs[i] = kafkago.Message{Key: []byte(fmt.Sprintf("record-%d", i)), Value: []byte(r), Time: baseDate}
	}
	produce(ctx, t, broker, msgs...)

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	transformer := pipeline.NewTransformer(testBuilder(), 10*time.Second, discardLogger())

	p := pipeline.New(reader, transformer, writer, discardLogger(), observability.NewMetricsForTesting(), 50, 4)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := sinkConsumer(t, broker)
	received := make(map[string]sinkMessage, len(hazardReports))
	for len(received) < len(hazardReports) {
		msg := readCard(ctx, t, consumer)
		received[msg.Key] = msg
	}

	pipelineCancel()
	require.NoError(t, <-errCh)
	require.NoError(t, p.CheckReadiness(ctx))

	for key, msg := range received {
		assert.Equal(t, key, msg.Card.IncidentID)
		assert.NotEmpty(t, msg.Headers["hazard_type"])
		assert.NotEmpty(t, msg.Card.GeometryRef)
	}

	quake := received["us7000quake"].Card
	assert.Equal(t, domain.HazardSeismic, quake.HazardType)
	require.Len(t, quake.Sources, 1)
	assert.Equal(t, "seismic:us7000quake", quake.Sources[0].Label)

	flood := received["nws-flood"].Card
	assert.Equal(t, domain.HazardWeather, flood.HazardType)
	assert.Equal(t, domain.SeveritySevere, flood.Severity)
	assert.Len(t, flood.AdminAreas.Value, 2)

	fire := received["firms-1"].Card
	assert.Empty(t, fire.AdminAreas.Value)

	storm := received["nhc-al01"].Card
	assert.Equal(t, domain.HazardTropical, storm.HazardType)
	assert.Equal(t, domain.SeverityExtreme, storm.Severity)
}

// TestPipelineTransformError verifies that invalid messages (poison pills) are
// skipped and the pipeline continues processing valid messages.
func TestPipelineTransformError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-poison")

	produce(ctx, t, broker,
		kafkago.Message{Key: []byte("bad-json"), Value: []byte("not-json{{{"), Time: baseDate},
		kafkago.Message{Key: []byte("bad-geometry"), Value: []byte(`{"id":"bad-geometry","geojson":{"type":"Polygon","coordinates":[[[0,0],[1,1]]]}}`), Time: baseDate},
		kafkago.Message{Key: []byte("good"), Value: []byte(hazardReports[1]), Time: baseDate},
	)

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	transformer := pipeline.NewTransformer(testBuilder(), 10*time.Second, discardLogger())

	p := pipeline.New(reader, transformer, writer, discardLogger(), observability.NewMetricsForTesting(), 50, 2)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := sinkConsumer(t, broker)
	msg := readCard(ctx, t, consumer)
	assert.Equal(t, "nws-flood", msg.Card.IncidentID)

	// Verify no second message arrives (the poison pills were skipped).
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on sink topic")

	pipelineCancel()
	require.NoError(t, <-errCh)
}
