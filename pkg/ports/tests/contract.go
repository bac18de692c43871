package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/cocoon/pkg/ports"
)

// ProfileLoaderContractTest is a reusable test suite that verifies if an adapter complies with ports.ProfileLoader.
// setupData must hold the raw content the adapter was seeded with.
func ProfileLoaderContractTest(t *testing.T, loader ports.ProfileLoader, setupData map[ports.ProfileKey][]byte) {
	t.Helper()
	ctx := context.Background()

	t.Run("Load_Success", func(t *testing.T) {
		for key, expected := range setupData {
			content, err := loader.Load(ctx, key)
			if err != nil {
				t.Fatalf("unexpected error loading %+v: %v", key, err)
			}
			if string(content) != string(expected) {
				t.Errorf("content mismatch for %+v. got %q, want %q", key, content, expected)
			}
		}
	})

	t.Run("Load_NotFound", func(t *testing.T) {
		_, err := loader.Load(ctx, ports.ProfileKey{Tier: ports.TierUser, Name: "nobody", Part: ports.PartLayout})
		if !errors.Is(err, ports.ErrProfileNotFound) {
			t.Errorf("expected ErrProfileNotFound, got %v", err)
		}
	})
}

// ResolverContractTest verifies that resolver returns readable sources for
// every location in setupData and fails for a missing one.
func ResolverContractTest(t *testing.T, resolver ports.Resolver, setupData map[string][]byte) {
	t.Helper()
	ctx := context.Background()

	t.Run("Resolve_Existing", func(t *testing.T) {
		for loc, expected := range setupData {
			src, err := resolver.Resolve(ctx, loc, "")
			if err != nil {
				t.Fatalf("unexpected error resolving %s: %v", loc, err)
			}
			ok, err := src.Exists(ctx)
			if err != nil || !ok {
				t.Fatalf("expected %s to exist (err=%v)", loc, err)
			}
			rc, err := src.Open(ctx)
			if err != nil {
				t.Fatalf("unexpected error opening %s: %v", loc, err)
			}
			buf := make([]byte, len(expected)+1)
			n, _ := readFull(rc, buf)
			_ = rc.Close()
			if string(buf[:n]) != string(expected) {
				t.Errorf("content mismatch for %s. got %q, want %q", loc, buf[:n], expected)
			}
		}
	})

	t.Run("Resolve_Missing", func(t *testing.T) {
		src, err := resolver.Resolve(ctx, "does-not-exist.xml", "")
		if err != nil {
			return
		}
		ok, _ := src.Exists(ctx)
		if ok {
			t.Error("expected missing source to report Exists() == false")
		}
	})
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
