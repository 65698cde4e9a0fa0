package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"stakeshack/core/types"
	"stakeshack/crypto"
	"stakeshack/ledger"
	"stakeshack/ledger/ledgertest"
	native "stakeshack/native/escrow"
	"stakeshack/reconcile"
	sdkescrow "stakeshack/sdk/escrow"
	"stakeshack/storage/marketplace"
)

const testSecret = "gateway-test-secret"

type testEnv struct {
	server *Server
	fake   *ledgertest.Ledger
	owner  *crypto.PrivateKey
	tenant *crypto.PrivateKey
}

func newTestEnv(t *testing.T, limiter *RateLimiter) *testEnv {
	t.Helper()
	ctx := context.Background()
	program := native.DefaultProgram()
	fake := ledgertest.New(program)

	owner, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	tenant, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	fake.Fund(owner.PubKey(), 50_000_000)
	fake.Fund(tenant.PubKey(), 50_000_000)

	store, err := marketplace.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, p := range []*marketplace.Profile{
		{ID: "prof-1", Username: "olivia", Pubkey: owner.PubKey().String()},
		{ID: "prof-7", Username: "tomas", Pubkey: tenant.PubKey().String()},
	} {
		if err := store.CreateProfile(ctx, p); err != nil {
			t.Fatalf("create profile: %v", err)
		}
	}
	if err := store.CreateApartment(ctx, &marketplace.Apartment{ID: "apt-1", OwnerID: "prof-1", RentLamports: 1_000_000}); err != nil {
		t.Fatalf("create apartment: %v", err)
	}
	if _, err := store.AddInterest(ctx, "apt-1", "prof-7", nil); err != nil {
		t.Fatalf("add interest: %v", err)
	}
	if err := store.ApproveTenant(ctx, "apt-1", "prof-7"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	submitter := ledger.NewSubmitter(fake,
		ledger.WithConfirmer(ledger.NewPollingConfirmer(fake, ledger.CommitmentConfirmed, time.Millisecond)),
		ledger.WithConfirmTimeout(2*time.Second),
	)
	rec := reconcile.New(store, sdkescrow.NewReader(fake, program, nil), submitter)
	server := NewServer(rec, submitter, NewAuthenticator(testSecret, "", 0), limiter, nil)
	return &testEnv{server: server, fake: fake, owner: owner, tenant: tenant}
}

func mintToken(t *testing.T, secret, subject string, wallet *crypto.PrivateKey) string {
	t.Helper()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	if wallet != nil {
		claims.Wallet = wallet.PubKey().String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) reconcile.View {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view reconcile.View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestViewRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	if rec := env.do(t, http.MethodGet, "/v1/apartments/apt-1/view", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	forged := mintToken(t, "other-secret", "prof-1", env.owner)
	if rec := env.do(t, http.MethodGet, "/v1/apartments/apt-1/view", forged, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", rec.Code)
	}
}

func TestViewWithoutWalletClaim(t *testing.T) {
	env := newTestEnv(t, nil)
	view := decodeView(t, env.do(t, http.MethodGet, "/v1/apartments/apt-1/view", mintToken(t, testSecret, "prof-1", nil), nil))
	if view.Phase != reconcile.PhaseNoWallet {
		t.Fatalf("expected NO_WALLET, got %s", view.Phase)
	}
	if env.fake.Calls("getAccountInfo") != 0 {
		t.Fatalf("no ledger reads expected without a wallet")
	}
}

func TestViewUnknownApartment(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/apartments/apt-404/view", mintToken(t, testSecret, "prof-1", env.owner), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPrepareSignRelayFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ownerToken := mintToken(t, testSecret, "prof-1", env.owner)

	view := decodeView(t, env.do(t, http.MethodGet, "/v1/apartments/apt-1/view", ownerToken, nil))
	if view.Phase != reconcile.PhaseAwaitingInit || !view.Offers(reconcile.ActionInitialize, "") {
		t.Fatalf("unexpected owner view %+v", view)
	}

	rec := env.do(t, http.MethodPost, "/v1/apartments/apt-1/actions/initialize", ownerToken, map[string]interface{}{})
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare: %d %s", rec.Code, rec.Body.String())
	}
	var prepared preparedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &prepared); err != nil {
		t.Fatalf("decode prepared: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(prepared.Transaction)
	if err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		t.Fatalf("unmarshal transaction: %v", err)
	}
	if err := tx.Sign(env.owner); err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/v1/transactions", ownerToken, relayRequest{Transaction: base64.StdEncoding.EncodeToString(signed)})
	if rec.Code != http.StatusOK {
		t.Fatalf("relay: %d %s", rec.Code, rec.Body.String())
	}
	var relayed relayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &relayed); err != nil {
		t.Fatalf("decode relay: %v", err)
	}
	if relayed.Signature != tx.Signature() {
		t.Fatalf("signature mismatch: %s vs %s", relayed.Signature, tx.Signature())
	}

	tenantView := decodeView(t, env.do(t, http.MethodGet, "/v1/apartments/apt-1/view", mintToken(t, testSecret, "prof-7", env.tenant), nil))
	if tenantView.Phase != reconcile.PhaseActiveDashboard || !tenantView.Offers(reconcile.ActionStake, "prof-7") {
		t.Fatalf("unexpected tenant view %+v", tenantView)
	}
}

func TestActionNotOfferedIsForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/v1/apartments/apt-1/actions/initialize", mintToken(t, testSecret, "prof-7", env.tenant), map[string]interface{}{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/v1/apartments/apt-1/actions/refund", mintToken(t, testSecret, "prof-1", env.owner), map[string]interface{}{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", rec.Code)
	}
}

func TestStakeForAnotherProfileIsForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	ownerToken := mintToken(t, testSecret, "prof-1", env.owner)
	tenantToken := mintToken(t, testSecret, "prof-7", env.tenant)
	signAndRelay(t, env, ownerToken, env.owner, "/v1/apartments/apt-1/actions/initialize")

	for _, profileID := range []string{"prof-1", "someone-else"} {
		rec := env.do(t, http.MethodPost, "/v1/apartments/apt-1/actions/stake", tenantToken, map[string]interface{}{"profileId": profileID})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("stake for %s: expected 403, got %d: %s", profileID, rec.Code, rec.Body.String())
		}
	}
	rec := env.do(t, http.MethodPost, "/v1/apartments/apt-1/actions/stake", tenantToken, map[string]interface{}{"profileId": "prof-7"})
	if rec.Code != http.StatusOK {
		t.Fatalf("stake for own profile: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRelayRefusesForeignProgram(t *testing.T) {
	env := newTestEnv(t, nil)
	token := mintToken(t, testSecret, "prof-1", env.owner)

	foreign := crypto.NewPublicKey(bytes.Repeat([]byte{0x42}, 32))
	latest, err := env.fake.GetLatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("blockhash: %v", err)
	}
	msg, err := types.NewMessage(env.owner.PubKey(), []types.Instruction{{
		ProgramID: foreign,
		Accounts:  []types.AccountMeta{{PublicKey: env.owner.PubKey(), IsSigner: true, IsWritable: true}},
		Data:      []byte{1, 2, 3},
	}}, latest.Blockhash)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	tx := types.NewTransaction(msg)
	if err := tx.Sign(env.owner); err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/v1/transactions", token, relayRequest{Transaction: base64.StdEncoding.EncodeToString(raw)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.fake.SendCount() != 0 {
		t.Fatalf("foreign transaction must not be broadcast")
	}
}

// signAndRelay prepares the action at path, signs it with key and relays it.
func signAndRelay(t *testing.T, env *testEnv, token string, key *crypto.PrivateKey, path string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, path, token, map[string]interface{}{})
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare %s: %d %s", path, rec.Code, rec.Body.String())
	}
	var prepared preparedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &prepared); err != nil {
		t.Fatalf("decode prepared: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(prepared.Transaction)
	if err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		t.Fatalf("unmarshal transaction: %v", err)
	}
	if err := tx.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec = env.do(t, http.MethodPost, "/v1/transactions", token, relayRequest{Transaction: base64.StdEncoding.EncodeToString(signed)})
	if rec.Code != http.StatusOK {
		t.Fatalf("relay %s: %d %s", path, rec.Code, rec.Body.String())
	}
}

func TestRelayRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	token := mintToken(t, testSecret, "prof-1", env.owner)

	rec := env.do(t, http.MethodPost, "/v1/transactions", token, relayRequest{Transaction: "%%%"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/apartments/apt-1/actions/initialize", token, map[string]interface{}{})
	var prepared preparedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &prepared); err != nil {
		t.Fatalf("decode prepared: %v", err)
	}
	rec = env.do(t, http.MethodPost, "/v1/transactions", token, relayRequest{Transaction: prepared.Transaction})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for unsigned relay, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.fake.SendCount() != 0 {
		t.Fatalf("unsigned transaction must not be broadcast")
	}
}

func TestAddresses(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/v1/apartments/apt-1/addresses?profile=prof-7", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("addresses: %d %s", rec.Code, rec.Body.String())
	}
	var resp addressesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Escrow != "EYPUqgQNLo376Z6Ax4juziUzFnSPLLu6jiCfRGMpjnux" || resp.EscrowBump != 255 {
		t.Fatalf("unexpected escrow address %+v", resp)
	}
	if resp.Stake != "9KWWS33HbGYEcaGpp49GHKYzesbFCxA3b1sCJCyEkmjQ" {
		t.Fatalf("unexpected stake address %s", resp.Stake)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, NewRateLimiter(0.001, 1))
	if rec := env.do(t, http.MethodGet, "/v1/apartments/apt-1/addresses", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/apartments/apt-1/addresses", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health checks are not limited, got %d", rec.Code)
	}
}
