package osip

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/glimte/osip-go/config"
	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/interceptors"
	"github.com/glimte/osip-go/messaging"
	"github.com/glimte/osip-go/telegrams"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.HTTP.Addr = ""
	cfg.TCP.Enabled = true
	cfg.RabbitMQ.Enabled = false
	cfg.Kafka.Enabled = false
	cfg.ReplyCache.Backend = "memory"
	return cfg
}

type client struct {
	t    *testing.T
	svc  *Service
	conn net.Conn
}

func (c *client) roundTrip(body contracts.Body, sequence string) ([]byte, *contracts.Telegram) {
	c.t.Helper()
	codec := c.svc.Codec()

	payload, err := codec.Encode(contracts.New(body,
		contracts.WithSequence(sequence),
		contracts.WithCreated(time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)),
	))
	require.NoError(c.t, err)
	_, err = c.conn.Write(payload)
	require.NoError(c.t, err)

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	header := codec.HeaderCodec()
	prefix := make([]byte, header.PrefixWidth())
	_, err = io.ReadFull(c.conn, prefix)
	require.NoError(c.t, err)
	length, err := header.PeekLength(prefix)
	require.NoError(c.t, err)
	frame := make([]byte, length)
	copy(frame, prefix)
	_, err = io.ReadFull(c.conn, frame[len(prefix):])
	require.NoError(c.t, err)

	reply, err := codec.Decode(frame)
	require.NoError(c.t, err)
	return frame, reply
}

func startService(t *testing.T, options ...ServiceOption) (*client, *prometheus.Registry) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	options = append(options, WithTCPListener(ln), WithPrometheusRegistry(reg))
	svc, err := NewService(ctx, testConfig(t), options...)
	require.NoError(t, err)

	require.NoError(t, svc.HandleFunc(telegrams.UpdateType, func(_ context.Context, t *contracts.Telegram) (*contracts.Telegram, error) {
		return messaging.Reply(t, contracts.AckBody{AcknowledgedType: t.Type()})
	}))

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("service did not stop")
		}
	})

	return &client{t: t, svc: svc, conn: conn}, reg
}

func TestServiceAnswersOverTCP(t *testing.T) {
	c, reg := startService(t)

	first, reply := c.roundTrip(telegrams.Update{Barcode: "4711"}, "00001")
	assert.Equal(t, contracts.AckType, reply.Type())
	assert.Equal(t, "00001", reply.Sequence())

	// a redelivered payload is answered from the reply cache
	second, _ := c.roundTrip(telegrams.Update{Barcode: "4711"}, "00001")
	assert.Equal(t, first, second)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["osip_telegrams_total"])
	assert.True(t, names["osip_reply_cache_lookups_total"])
	assert.True(t, names["osip_pool_queued"])
}

func TestServiceAnswersUnhandledTypeWithError(t *testing.T) {
	c, _ := startService(t)

	_, reply := c.roundTrip(telegrams.Request{Barcode: "4711"}, "00002")
	assert.Equal(t, contracts.ErrorType, reply.Type())
	assert.Equal(t, contracts.CodeHandler, reply.ErrorCode())
}

func TestServiceRunsValidator(t *testing.T) {
	validator := interceptors.TelegramValidatorFunc(func(_ context.Context, t *contracts.Telegram) error {
		if u, ok := t.Body().(telegrams.Update); ok && u.Barcode == "" {
			return errors.New("barcode is required")
		}
		return nil
	})
	c, _ := startService(t, WithValidator(validator))

	_, reply := c.roundTrip(telegrams.Update{}, "00003")
	assert.Equal(t, contracts.ErrorType, reply.Type())
	assert.Equal(t, contracts.CodeMalformedBody, reply.ErrorCode())

	_, reply = c.roundTrip(telegrams.Update{Barcode: "1"}, "00004")
	assert.Equal(t, contracts.AckType, reply.Type())
}

func TestServiceHealthRegistersCoreCheckers(t *testing.T) {
	svc, err := NewService(context.Background(), testConfig(t), WithPrometheusRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	overall := svc.Health().Check(context.Background())
	assert.Contains(t, overall.Checks, "worker_pool")
	assert.Contains(t, overall.Checks, "circuit_handlers")
}

func TestNewServiceRejectsMissingVariantTable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Service.Variants = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewService(context.Background(), cfg, WithPrometheusRegistry(prometheus.NewRegistry()))
	assert.Error(t, err)
}
