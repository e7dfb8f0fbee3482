package auth

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSetup mounts the verifier in front of a handler that echoes the caller
// and the signed payload.
func testSetup(t *testing.T) (*miniredis.Miniredis, *gin.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	v := NewVerifier(NewRedisNonces(rdb), zap.NewNop())

	r := gin.New()
	r.POST("/vouchers/:id/redeem", v.Require("redeem_voucher"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"caller": Caller(c), "payload": string(Payload(c))})
	})
	return mr, r
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildRequest signs a redeem request for voucher00001. expiresOffset is
// relative to now.
func buildRequest(t *testing.T, key *ecdsa.PrivateKey, expiresOffset time.Duration, nonce string) *http.Request {
	t.Helper()
	h, err := Headers(SignedRequest{
		Action:     "redeem_voucher",
		ExpiresAt:  time.Now().Add(expiresOffset).Unix(),
		Nonce:      nonce,
		Payload:    json.RawMessage(`{"secret":"s"}`),
		ResourceID: "voucher00001",
	}, key)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/vouchers/voucher00001/redeem", nil)
	req.Header = h
	return req
}

func serve(r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]string) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp) //nolint:errcheck
	return w, resp
}

func TestRequire_ValidRequest(t *testing.T) {
	_, r := testSetup(t)
	key := newKey(t)

	w, resp := serve(r, buildRequest(t, key, 2*time.Minute, "nonce-valid-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if want := crypto.PubkeyToAddress(key.PublicKey).Hex(); resp["caller"] != want {
		t.Errorf("caller: got %s want %s", resp["caller"], want)
	}
	if resp["payload"] != `{"secret":"s"}` {
		t.Errorf("payload: got %s", resp["payload"])
	}
}

// Lowercase address headers are accepted; the caller is always checksummed.
func TestRequire_LowercaseAddress(t *testing.T) {
	_, r := testSetup(t)
	key := newKey(t)
	req := buildRequest(t, key, time.Minute, "nonce-lower-1")
	want := crypto.PubkeyToAddress(key.PublicKey).Hex()
	req.Header.Set(HeaderAddress, strings.ToLower(want))

	w, resp := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["caller"] != want {
		t.Errorf("caller: got %s want %s", resp["caller"], want)
	}
}

func TestRequire_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(t *testing.T, req *http.Request)
		want   string
	}{
		{"missing headers", func(_ *testing.T, req *http.Request) { req.Header = http.Header{} }, "missing auth headers"},
		{"bad base64", func(_ *testing.T, req *http.Request) { req.Header.Set(HeaderMessage, "%%%") }, "invalid X-Signed-Message encoding"},
		{"bad json", func(_ *testing.T, req *http.Request) {
			req.Header.Set(HeaderMessage, base64.StdEncoding.EncodeToString([]byte("nope")))
		}, "invalid signed message JSON"},
		{"wrong wallet", func(_ *testing.T, req *http.Request) {
			req.Header.Set(HeaderAddress, "0x000000000000000000000000000000000000dEaD")
		}, "invalid signature"},
		{"not an address", func(_ *testing.T, req *http.Request) { req.Header.Set(HeaderAddress, "alice") }, "invalid signature"},
		{"garbage signature", func(_ *testing.T, req *http.Request) { req.Header.Set(HeaderSignature, "0x1234") }, "invalid signature"},
		{"other resource", func(_ *testing.T, req *http.Request) {
			req.URL.Path = "/vouchers/voucher00002/redeem"
		}, "signed for a different resource"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, r := testSetup(t)
			req := buildRequest(t, newKey(t), 2*time.Minute, "nonce-"+tc.name)
			tc.mutate(t, req)
			w, resp := serve(r, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
			}
			if resp["error"] != tc.want {
				t.Errorf("error: got %q want %q", resp["error"], tc.want)
			}
			if resp["code"] != "unauthorized" {
				t.Errorf("code: got %q", resp["code"])
			}
		})
	}
}

func TestRequire_WrongAction(t *testing.T) {
	_, r := testSetup(t)
	key := newKey(t)
	h, _ := Headers(SignedRequest{
		Action:     "cancel_voucher",
		ExpiresAt:  time.Now().Add(time.Minute).Unix(),
		Nonce:      "nonce-action-1",
		ResourceID: "voucher00001",
	}, key)
	req := httptest.NewRequest(http.MethodPost, "/vouchers/voucher00001/redeem", nil)
	req.Header = h

	w, resp := serve(r, req)
	if w.Code != http.StatusUnauthorized || resp["error"] != "signed for a different action" {
		t.Fatalf("got %d %v", w.Code, resp)
	}
}

func TestRequire_Expired(t *testing.T) {
	_, r := testSetup(t)
	w, resp := serve(r, buildRequest(t, newKey(t), -time.Second, "nonce-expired-1"))
	if w.Code != http.StatusUnauthorized || resp["error"] != "request expired" {
		t.Fatalf("got %d %v", w.Code, resp)
	}
}

func TestRequire_TooFarInFuture(t *testing.T) {
	_, r := testSetup(t)
	w, resp := serve(r, buildRequest(t, newKey(t), 10*time.Minute, "nonce-future-1"))
	if w.Code != http.StatusUnauthorized || resp["error"] != "expires_at too far in future" {
		t.Fatalf("got %d %v", w.Code, resp)
	}
}

func TestRequire_NonceReplay(t *testing.T) {
	mr, r := testSetup(t)

	w1, _ := serve(r, buildRequest(t, newKey(t), 2*time.Minute, "nonce-replay-1"))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d: %s", w1.Code, w1.Body.String())
	}
	if ttl := mr.TTL(nonceKeyPrefix + "nonce-replay-1"); ttl <= 0 || ttl > 2*time.Minute {
		t.Errorf("nonce TTL: got %v", ttl)
	}

	// Same nonce from a different wallet is still blocked.
	w2, resp := serve(r, buildRequest(t, newKey(t), 2*time.Minute, "nonce-replay-1"))
	if w2.Code != http.StatusUnauthorized || resp["error"] != "nonce already used" {
		t.Fatalf("replay: got %d %v", w2.Code, resp)
	}
}

func TestRequire_NonceStoreDown(t *testing.T) {
	mr, r := testSetup(t)
	mr.Close()

	w, resp := serve(r, buildRequest(t, newKey(t), time.Minute, "nonce-down-1"))
	if w.Code != http.StatusInternalServerError || resp["code"] != "internal" {
		t.Fatalf("got %d %v", w.Code, resp)
	}
}

// ── MemoryNonces ──────────────────────────────────────────────────────────────

func TestMemoryNonces(t *testing.T) {
	ctx := context.Background()
	n := NewMemoryNonces()
	now := time.Unix(1_700_000_000, 0)
	n.now = func() time.Time { return now }

	if ok, _ := n.Claim(ctx, "a", time.Minute); !ok {
		t.Fatal("first claim should succeed")
	}
	if ok, _ := n.Claim(ctx, "a", time.Minute); ok {
		t.Fatal("second claim should fail")
	}
	if ok, _ := n.Claim(ctx, "b", time.Minute); !ok {
		t.Fatal("other nonce should succeed")
	}

	now = now.Add(time.Minute)
	if ok, _ := n.Claim(ctx, "a", time.Minute); !ok {
		t.Fatal("nonce should be forgotten after its ttl")
	}
	if len(n.seen) != 1 {
		t.Errorf("expired entries not pruned: %d", len(n.seen))
	}
}
