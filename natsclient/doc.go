// Package natsclient manages the gateway's NATS connection.
//
// The client wraps nats.go with a three-state connection status, slog
// logging and optional JetStream publishing with server acknowledgements.
// Reconnection inside nats.go is disabled; the publisher reconnects with the
// same capped backoff it uses for every broker.
//
// # Basic Usage
//
//	client := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("photgw-3f1c"),
//	    natsclient.WithLogger(logger),
//	)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	// Core NATS: publish and flush so a dead link surfaces now
//	err = client.Publish(ctx, "stars4all.stars1.reading", payload)
//
//	// JetStream: publish and wait for the stream's ack
//	err = client.EnsureStream(ctx, "PHOTOMETERS", []string{"stars4all.>"})
//	err = client.PublishToStream(ctx, "stars4all.stars1.reading", payload)
//
// # Testing
//
// Integration tests start a throwaway server with NewTestServer, which uses
// testcontainers and is only built with the integration tag.
package natsclient
