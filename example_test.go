package osip_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	osip "github.com/glimte/osip-go"
	"github.com/glimte/osip-go/config"
	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/telegrams"
)

func ExampleNewService() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}
	cfg.HTTP.Addr = ""
	cfg.TCP.Enabled = false
	cfg.RabbitMQ.Enabled = false
	cfg.Kafka.Enabled = false
	cfg.ReplyCache.Backend = "memory"

	ctx := context.Background()
	svc, err := osip.NewService(ctx, cfg,
		osip.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		log.Fatal(err)
	}

	err = svc.HandleFunc(telegrams.UpdateType, func(ctx context.Context, tg *contracts.Telegram) (*contracts.Telegram, error) {
		return nil, nil
	})
	if err != nil {
		log.Fatal(err)
	}

	payload, err := svc.Codec().Encode(contracts.New(telegrams.Update{Barcode: "4711"},
		contracts.WithSequence("00042"),
		contracts.WithCreated(time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC))))
	if err != nil {
		log.Fatal(err)
	}

	reply, err := svc.Dispatcher().HandleInbound(ctx, payload)
	if err != nil {
		log.Fatal(err)
	}
	ack, err := svc.Codec().Decode(reply)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(ack.Type(), ack.Sequence())
	// Output: ACK_ 00042
}
