// Package auth authenticates operator requests. Operators prove control of a
// registered key by signing a short-lived challenge; there are no sessions
// and no stored credentials.
package auth

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	// messagePrefix binds a signature to this service so a signature captured
	// elsewhere cannot be replayed here.
	messagePrefix = "LendCore Operator"

	maxTokenAge  = 300 * time.Second
	maxClockSkew = 60 * time.Second
)

// Middleware authenticates operator endpoints via signed tokens
type Middleware struct {
	operators map[string]struct{}

	nonceMu     sync.Mutex
	nonceStore  map[string]time.Time
	nonceWindow time.Duration
}

// NewMiddleware creates the operator auth middleware. Addresses not in the
// operator list are rejected even with a valid signature.
func NewMiddleware(operatorAddresses []string) *Middleware {
	operators := make(map[string]struct{}, len(operatorAddresses))
	for _, addr := range operatorAddresses {
		operators[strings.ToLower(addr)] = struct{}{}
	}
	return &Middleware{
		operators:   operators,
		nonceStore:  make(map[string]time.Time),
		nonceWindow: 5 * time.Minute,
	}
}

// RequireOperator requires a valid operator token on the request
func (m *Middleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "AUTH_HEADER_MISSING", "message": "authorization header required"},
			})
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "INVALID_AUTH_FORMAT", "message": "bearer token required"},
			})
			c.Abort()
			return
		}

		address, err := m.verifyToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			logrus.WithError(err).Warn("operator authentication failed")
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   gin.H{"code": "AUTH_FAILED", "message": "authentication failed"},
			})
			c.Abort()
			return
		}

		if _, ok := m.operators[strings.ToLower(address)]; !ok {
			c.JSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   gin.H{"code": "NOT_AN_OPERATOR", "message": "address is not a registered operator"},
			})
			c.Abort()
			return
		}

		c.Set("operator_address", address)
		c.Next()
	}
}

// verifyToken checks a "signature:nonce:timestamp:address" token
func (m *Middleware) verifyToken(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return "", fmt.Errorf("invalid token format")
	}
	signature, nonce, timestampStr, address := parts[0], parts[1], parts[2], parts[3]

	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address format")
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp")
	}
	now := time.Now()
	issued := time.Unix(timestamp, 0)
	if now.Sub(issued) > maxTokenAge || issued.Sub(now) > maxClockSkew {
		return "", fmt.Errorf("timestamp out of valid range")
	}

	if err := m.consumeNonce(nonce); err != nil {
		return "", err
	}

	message := fmt.Sprintf("%s:%s:%d", messagePrefix, nonce, timestamp)
	if err := verifySignature(message, signature, address); err != nil {
		return "", err
	}
	return address, nil
}

// consumeNonce rejects a nonce seen within the replay window
func (m *Middleware) consumeNonce(nonce string) error {
	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()

	now := time.Now()
	if lastUsed, exists := m.nonceStore[nonce]; exists && now.Sub(lastUsed) < m.nonceWindow {
		return fmt.Errorf("nonce already used")
	}
	m.nonceStore[nonce] = now

	for n, usedAt := range m.nonceStore {
		if now.Sub(usedAt) > m.nonceWindow {
			delete(m.nonceStore, n)
		}
	}
	return nil
}

// verifySignature recovers the signer of the prefixed message and compares it
// to the claimed address.
func verifySignature(message, signature, expectedAddress string) error {
	signature = strings.TrimPrefix(signature, "0x")
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding")
	}
	if len(sigBytes) != 65 {
		return fmt.Errorf("invalid signature length")
	}
	// Normalize the recovery id; wallets emit either 0/1 or 27/28.
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256Hash([]byte(prefixed))

	pubKey, err := crypto.SigToPub(hash.Bytes(), sigBytes)
	if err != nil {
		return fmt.Errorf("failed to recover public key")
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if !strings.EqualFold(recovered.Hex(), expectedAddress) {
		return fmt.Errorf("signature address mismatch")
	}
	return nil
}
