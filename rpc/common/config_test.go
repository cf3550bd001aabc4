package common

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/msgpackrpc/rpc/pool"
)

func TestServerPoolConfigs(t *testing.T) {
	c := DefaultServerConfig()
	c.MinimumConnection = 500
	c.MaximumConnection = 4
	c.MinimumConcurrentRequest = 8
	c.MaximumConcurrentRequest = 16

	transports := c.TransportPoolConfig()
	if transports.ExhaustionPolicy != pool.Fail {
		t.Errorf("expected Fail for server transports, got %s", transports.ExhaustionPolicy)
	}
	if transports.MaximumPooled != 4 || transports.MinimumReserved != 4 {
		t.Errorf("expected 4/4, got %d/%d", transports.MinimumReserved, transports.MaximumPooled)
	}

	// one request context per open connection, borrowed without blocking the accept loop
	requests := c.RequestContextPoolConfig()
	if requests.ExhaustionPolicy != pool.Fail {
		t.Errorf("expected Fail for server request contexts, got %s", requests.ExhaustionPolicy)
	}
	if requests.MaximumPooled != 4 || requests.MinimumReserved != 4 {
		t.Errorf("expected 4/4 request contexts, got %d/%d", requests.MinimumReserved, requests.MaximumPooled)
	}

	responses := c.ResponseContextPoolConfig()
	if responses.ExhaustionPolicy != pool.BlockUntilAvailable {
		t.Errorf("expected BlockUntilAvailable for responses, got %s", responses.ExhaustionPolicy)
	}
	if responses.MinimumReserved != 8 || responses.MaximumPooled != 16 {
		t.Errorf("expected 8/16 response contexts, got %d/%d", responses.MinimumReserved, responses.MaximumPooled)
	}
}

func TestServerRequestContextsFollowConnections(t *testing.T) {
	c := DefaultServerConfig()
	c.MaximumConnection = 128
	c.MaximumConcurrentRequest = 1

	if got := c.RequestContextPoolConfig().MaximumPooled; got != 128 {
		t.Errorf("expected 128 request contexts, got %d", got)
	}
}

func TestClientPoolConfigs(t *testing.T) {
	c := DefaultClientConfig()
	c.Endpoints = []string{"a:1", "b:2", "c:3"}
	c.ConnectionsPerEndpoint = 2

	if got := c.TransportPoolConfig().MaximumPooled; got != 6 {
		t.Errorf("expected 6 transports, got %d", got)
	}
	if got := c.ResponseContextPoolConfig().MaximumPooled; got != 6 {
		t.Errorf("expected one response context per transport, got %d", got)
	}

	c.MaximumConcurrentRequest = 0
	if got := c.RequestContextPoolConfig().MaximumPooled; got != 1 {
		t.Errorf("expected at least one request context, got %d", got)
	}
}

func TestConfigString(t *testing.T) {
	s := DefaultServerConfig()
	out := s.String()
	for _, want := range []string{"RPC SERVER", "LIMITS", "Rate Limit", "disabled"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in server config output", want)
		}
	}

	c := DefaultClientConfig()
	if !strings.Contains(c.String(), "localhost:18800") {
		t.Error("expected the endpoint in client config output")
	}
}
