// Package valkeytest runs a throwaway Valkey container for tests.
package valkeytest

import (
	"context"
	"net"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
	slogctx "github.com/veqryn/slog-context"
)

// Start initialises a ValKey instance and returns a client and the mapped port.
// The container and the client are torn down when the test finishes.
func Start(t testing.TB) (valkey.Client, nat.Port) {
	t.Helper()
	ctx := t.Context()

	valkeyContainer, err := valkeycontainer.Run(ctx, "valkey/valkey:8-alpine")
	if err != nil {
		slogctx.Error(ctx, "Failed to start ValKey container", "error", err)
		t.Fatalf("starting valkey container: %v", err)
	}

	t.Cleanup(func() {
		if err := valkeyContainer.Terminate(context.Background()); err != nil {
			slogctx.Error(ctx, "Failed to terminate ValKey container", "error", err)
		}
	})

	port, err := valkeyContainer.MappedPort(ctx, nat.Port("6379"))
	if err != nil {
		t.Fatalf("mapping valkey port: %v", err)
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{net.JoinHostPort("localhost", port.Port())},
	})
	if err != nil {
		t.Fatalf("initialising valkey client: %v", err)
	}
	t.Cleanup(client.Close)

	return client, port
}
