package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
type SignedRequest struct {
	Action     string          `json:"action"`
	ExpiresAt  int64           `json:"expires_at"`
	Nonce      string          `json:"nonce"`
	Payload    json.RawMessage `json:"payload"`
	ResourceID string          `json:"resource_id"`
}

const (
	HeaderAddress   = "X-Wallet-Address"
	HeaderMessage   = "X-Signed-Message"
	HeaderSignature = "X-Wallet-Signature"

	callerKey  = "caller"
	payloadKey = "signed_payload"

	maxFutureWindow = 5 * time.Minute
)

// Verifier checks wallet signatures and burns each nonce once.
type Verifier struct {
	nonces NonceStore
	now    func() time.Time
	log    *zap.Logger
}

func NewVerifier(nonces NonceStore, log *zap.Logger) *Verifier {
	return &Verifier{nonces: nonces, now: time.Now, log: log}
}

// Require returns a handler that admits only requests signed for action. When
// the route has an :id parameter the signed resource_id must match it.
func (v *Verifier) Require(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := c.GetHeader(HeaderAddress)
		msgB64 := c.GetHeader(HeaderMessage)
		sigHex := c.GetHeader(HeaderSignature)
		if wallet == "" || msgB64 == "" || sigHex == "" {
			unauthorized(c, "missing auth headers")
			return
		}

		msg, err := base64.StdEncoding.DecodeString(msgB64)
		if err != nil {
			unauthorized(c, "invalid X-Signed-Message encoding")
			return
		}
		var req SignedRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			unauthorized(c, "invalid signed message JSON")
			return
		}
		if req.Action != action {
			unauthorized(c, "signed for a different action")
			return
		}
		if req.ResourceID != c.Param("id") {
			unauthorized(c, "signed for a different resource")
			return
		}

		now := v.now().Unix()
		if req.ExpiresAt <= now {
			unauthorized(c, "request expired")
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			unauthorized(c, "expires_at too far in future")
			return
		}

		signer, err := RecoverAddress(msg, sigHex)
		if err != nil || !common.IsHexAddress(wallet) || signer != common.HexToAddress(wallet) {
			unauthorized(c, "invalid signature")
			return
		}

		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		fresh, err := v.nonces.Claim(c.Request.Context(), req.Nonce, ttl)
		if err != nil {
			v.log.Error("nonce check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
			return
		}
		if !fresh {
			unauthorized(c, "nonce already used")
			return
		}

		c.Set(callerKey, signer.Hex())
		c.Set(payloadKey, []byte(req.Payload))
		c.Next()
	}
}

// Caller is the checksummed address that signed the request.
func Caller(c *gin.Context) string { return c.GetString(callerKey) }

// Payload is the signed request body; handlers decode it instead of the raw
// HTTP body so the signature covers what is executed.
func Payload(c *gin.Context) []byte {
	b, _ := c.Get(payloadKey)
	p, _ := b.([]byte)
	return p
}

// Headers signs req with key and returns the three auth headers.
func Headers(req SignedRequest, key *ecdsa.PrivateKey) (http.Header, error) {
	msg, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	sig, err := SignMessage(msg, key)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set(HeaderAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
	h.Set(HeaderMessage, base64.StdEncoding.EncodeToString(msg))
	h.Set(HeaderSignature, sig)
	return h, nil
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "unauthorized"})
}
