// Package token 提供了 WebSocket 流式通道票据的签发与校验。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketManager 负责签发与验证短时效的流式通道票据。
// 票据携带会话标识，WebSocket 握手走 URL 参数而不是 Header，
// 所以用一个独立的短周期 JWT 而不是复用任何长效凭证。
type TicketManager struct {
	secretKey []byte
	ticketDur time.Duration
}

// TicketClaims 是票据中携带的自定义数据。
type TicketClaims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// NewTicketManager 创建一个新的 TicketManager 实例。
func NewTicketManager(secret string, expireMinutes int) *TicketManager {
	if expireMinutes <= 0 {
		expireMinutes = 5
	}
	return &TicketManager{
		secretKey: []byte(secret),
		ticketDur: time.Duration(expireMinutes) * time.Minute,
	}
}

// IssueTicket 为给定会话签发一张票据。
func (m *TicketManager) IssueTicket(sessionID string) (string, error) {
	claims := TicketClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ticketDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	ticket := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return ticket.SignedString(m.secretKey)
}

// VerifyTicket 验证票据字符串，返回其中的会话信息。
// 票据无效（签名不匹配或已过期）时返回错误。
func (m *TicketManager) VerifyTicket(ticketString string) (*TicketClaims, error) {
	parsed, err := jwt.ParseWithClaims(ticketString, &TicketClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := parsed.Claims.(*TicketClaims); ok && parsed.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid ticket")
}

// GenerateRandomString generates a random hex string of a given length.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less random string on error
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
