// Package osip assembles an OSIP telegram service: the fixed-width codec, the
// dispatcher with its interceptor chain, the worker pool and the TCP,
// RabbitMQ and Kafka transports.
//
// A minimal service registers one handler per telegram type and runs until
// its context is cancelled:
//
//	cfg, err := config.Load("osipd.yaml")
//	if err != nil {
//		return err
//	}
//	svc, err := osip.NewService(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	svc.HandleFunc(telegrams.UpdateType, func(ctx context.Context, t *contracts.Telegram) (*contracts.Telegram, error) {
//		return messaging.Reply(t, contracts.AckBody{AcknowledgedType: t.Type()})
//	})
//	return svc.Run(ctx)
package osip
