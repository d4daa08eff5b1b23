package sessions_test

import (
	"context"
	"testing"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: Get(id) is absent for every id that was never passed to Put
func TestInMemoryStore_NeverPutIsAbsent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("unknown ids are absent", prop.ForAll(
		func(stored []string, probe string) bool {
			ctx := context.Background()
			store := sessions.NewInMemoryStore()
			seen := make(map[string]bool)
			for _, id := range stored {
				if id == "" {
					continue
				}
				seen[id] = true
				if err := store.Put(ctx, id, &sessions.Record{Claims: sessions.Claims{Subject: "s"}}); err != nil {
					return false
				}
			}
			if seen[probe] {
				return true
			}
			_, err := store.Get(ctx, probe)
			return gateerrors.Is(err, gateerrors.ErrSessionNotFound)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
	))

	properties.Property("put then get returns the same subject", prop.ForAll(
		func(id, subject string) bool {
			if id == "" {
				return true
			}
			ctx := context.Background()
			store := sessions.NewInMemoryStore()
			if err := store.Put(ctx, id, &sessions.Record{Claims: sessions.Claims{Subject: subject}}); err != nil {
				return false
			}
			got, err := store.Get(ctx, id)
			return err == nil && got.Claims.Subject == subject && got.ID == id
		},
		gen.Identifier(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
