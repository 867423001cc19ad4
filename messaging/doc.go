// Package messaging drives inbound OSIP telegrams from raw bytes to a reply.
//
// This package contains:
//   - Dispatcher: the decode, dispatch and reply state machine
//   - KeyedMutex: per correlation key exclusion
//   - Pool: worker lanes that keep telegrams of one key in receipt order
//   - Handler and MiddlewareFunc: the application extension points
//
// Every payload ends in one of three states. REPLIED means a reply (an
// explicit one or a generated ACK_) was encoded. NO_REPLY means the variant is
// never answered. FAILED carries the error and, when the sender can be told,
// an ERR_ telegram whose header holds the wire error code.
//
// Example usage:
//
//	registry, _ := telegrams.NewRegistry()
//	codec := serialization.NewTelegramCodec(serialization.NewDefaultHeaderCodec(), registry)
//	dispatcher := messaging.NewDispatcher(codec, messaging.WithProcessingTimeout(5*time.Second))
//
//	dispatcher.RegisterHandlerFunc(telegrams.RequestType,
//		func(ctx context.Context, t *contracts.Telegram) (*contracts.Telegram, error) {
//			req := t.Body().(telegrams.Request)
//			return messaging.Reply(t, telegrams.Response{Barcode: req.Barcode, TargetLocation: "RACK-01"})
//		})
//
//	reply, err := dispatcher.HandleInbound(ctx, payload)
package messaging
