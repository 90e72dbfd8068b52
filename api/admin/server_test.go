package admin

import (
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestNewBindsListener(t *testing.T) {
	gs, ln, err := New(Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer ln.Close()
	defer gs.Stop()

	if ln.Addr().String() == "" {
		t.Error("expected a bound address")
	}
}

func TestAuthorizeRequiresMatchingToken(t *testing.T) {
	set := keySet([]string{"secret-token"})

	md := metadata.MD{"authorization": {"Bearer secret-token"}}
	if !authorize(md, set) {
		t.Error("expected matching bearer token to authorize")
	}

	bad := metadata.MD{"authorization": {"Bearer wrong"}}
	if authorize(bad, set) {
		t.Error("expected mismatched bearer token to be rejected")
	}

	if authorize(nil, set) {
		t.Error("expected nil metadata to be rejected")
	}
}
