// Package idpfake is a scripted identity provider for gate and server tests.
package idpfake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/jrsteele09/go-oidc-gate/idp"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
)

const (
	AuthorizeURL = "https://idp.example.test/authorize"
	LogoutURL    = "https://idp.example.test/v2/logout"
)

// FakeProvider maps authorization codes to claims. Unknown codes fail the
// exchange the way a real provider rejects them.
type FakeProvider struct {
	lock        sync.Mutex
	codes       map[string]sessions.Claims
	exchangeErr error
	redirectErr error
	block       chan struct{}

	exchanges   int
	lastState   string
	lastReturn  string
	lastRawHint json.RawMessage
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{codes: make(map[string]sessions.Claims)}
}

// Issue makes code redeem for claims
func (f *FakeProvider) Issue(code string, claims sessions.Claims) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.codes[code] = claims
}

// FailExchange makes every following exchange return err
func (f *FakeProvider) FailExchange(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.exchangeErr = err
}

// FailRedirect makes AuthorizationRedirect return err
func (f *FakeProvider) FailRedirect(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.redirectErr = err
}

// Block makes exchanges wait until the returned func is called or the
// context ends.
func (f *FakeProvider) Block() (release func()) {
	f.lock.Lock()
	defer f.lock.Unlock()
	ch := make(chan struct{})
	f.block = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *FakeProvider) AuthorizationRedirect(_ context.Context, state string) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.redirectErr != nil {
		return "", f.redirectErr
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("state", state)
	return AuthorizeURL + "?" + q.Encode(), nil
}

func (f *FakeProvider) ExchangeCode(ctx context.Context, code, state string) (idp.Tokens, error) {
	f.lock.Lock()
	f.exchanges++
	f.lastState = state
	block := f.block
	exchangeErr := f.exchangeErr
	claims, ok := f.codes[code]
	f.lock.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return idp.Tokens{}, gateerrors.NewAuthError(gateerrors.ReasonCancelled, ctx.Err())
		}
	}
	if code == "" {
		return idp.Tokens{}, gateerrors.NewAuthError(gateerrors.ReasonMissingCode, nil)
	}
	if exchangeErr != nil {
		return idp.Tokens{}, exchangeErr
	}
	if !ok {
		return idp.Tokens{}, gateerrors.NewAuthError(gateerrors.ReasonExchangeFailed, fmt.Errorf("invalid_grant: %s", code))
	}
	if claims.Subject == "" {
		return idp.Tokens{}, gateerrors.NewAuthError(gateerrors.ReasonMissingClaim, gateerrors.ErrMissingClaim)
	}

	raw, _ := json.Marshal(map[string]string{"id_token": "id-token-" + claims.Subject})
	return idp.Tokens{Claims: claims, Raw: raw}, nil
}

func (f *FakeProvider) EndSessionRedirect(_ context.Context, returnURI string, rawToken json.RawMessage) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.lastReturn = returnURI
	f.lastRawHint = rawToken
	q := url.Values{}
	q.Set("returnTo", returnURI)
	return LogoutURL + "?" + q.Encode(), nil
}

func (f *FakeProvider) Exchanges() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.exchanges
}

func (f *FakeProvider) LastState() string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.lastState
}

// LastLogout returns the arguments of the last EndSessionRedirect call
func (f *FakeProvider) LastLogout() (string, json.RawMessage) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.lastReturn, f.lastRawHint
}
