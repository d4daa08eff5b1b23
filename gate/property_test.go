package gate_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-oidc-gate/activity"
	"github.com/jrsteele09/go-oidc-gate/authflow"
	"github.com/jrsteele09/go-oidc-gate/gate"
	"github.com/jrsteele09/go-oidc-gate/idp/idpfake"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/jrsteele09/go-oidc-gate/sessions/storefake"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newPropertyGate(store sessions.Store) (*gate.Gate, error) {
	return gate.New(idpfake.NewFakeProvider(), store, authflow.NewInMemoryRepo(nil), activity.New())
}

func TestGate_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	ctx := context.Background()

	properties.Property("RequireSession returns a record iff the store holds one with a subject", prop.ForAll(
		func(id, subject string, stored bool) bool {
			store := sessions.NewInMemoryStore()
			g, err := newPropertyGate(store)
			if err != nil {
				return false
			}
			if stored {
				if err := store.Put(ctx, id, &sessions.Record{Claims: sessions.Claims{Subject: subject}}); err != nil {
					return false
				}
			}

			record, err := g.RequireSession(ctx, gate.RequestInfo{}, id)
			valid := stored && subject != ""
			if valid {
				return err == nil && record.Claims.Subject == subject
			}
			return record == nil && gateerrors.Is(err, gateerrors.ErrUnauthenticated)
		},
		gen.Identifier(),
		gen.OneGenOf(gen.Const(""), gen.AlphaString()),
		gen.Bool(),
	))

	properties.Property("a callback with a foreign state never writes a session", prop.ForAll(
		func(forged string) bool {
			store := storefake.NewFakeStore()
			g, err := newPropertyGate(store)
			if err != nil {
				return false
			}
			start, err := g.StartLogin(ctx, gate.RequestInfo{}, "/")
			if err != nil {
				return false
			}
			if forged == start.State {
				return true
			}

			_, err = g.CompleteLogin(ctx, gate.RequestInfo{}, gate.CallbackParams{
				Code:          "abc",
				State:         forged,
				ExpectedState: start.State,
			})
			return gateerrors.Is(err, gateerrors.ErrAuth) && store.Puts() == 0
		},
		gen.AnyString(),
	))

	properties.Property("logout always ends the session", prop.ForAll(
		func(subject string) bool {
			store := sessions.NewInMemoryStore()
			g, err := newPropertyGate(store)
			if err != nil {
				return false
			}
			if err := store.Put(ctx, "sid", &sessions.Record{Claims: sessions.Claims{Subject: subject}}); err != nil {
				return false
			}
			if _, err := g.Logout(ctx, gate.RequestInfo{}, "sid"); err != nil {
				return false
			}
			_, err = g.RequireSession(ctx, gate.RequestInfo{}, "sid")
			return gateerrors.Is(err, gateerrors.ErrUnauthenticated)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
