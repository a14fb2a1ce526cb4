package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"leadfunnel/models"
)

const proofIssuer = "leadfunnel"

// ProofClaims is the submission proof carried to a confirmation page.
type ProofClaims struct {
	Funnel    models.FunnelType `json:"funnel"`
	SessionID string            `json:"sid"`
	LeadRef   string            `json:"lead"`
	Reference string            `json:"ref"`
	jwt.RegisteredClaims
}

// ProofSigner issues and checks submission proofs.
type ProofSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewProofSigner(secret string, ttl time.Duration) *ProofSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ProofSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IssueProof signs a short-lived token naming the submitted lead.
func (s *ProofSigner) IssueProof(funnel models.FunnelType, sessionID string, lead *models.Lead) (string, error) {
	if lead == nil {
		return "", errors.New("cannot issue proof without a lead")
	}
	now := s.now()
	claims := &ProofClaims{
		Funnel:    funnel,
		SessionID: sessionID,
		LeadRef:   lead.Identity(),
		Reference: lead.Reference(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    proofIssuer,
			Subject:   string(funnel),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyProof parses a proof and checks it was issued for the given funnel.
func (s *ProofSigner) VerifyProof(tokenString string, funnel models.FunnelType) (*ProofClaims, error) {
	if tokenString == "" {
		return nil, errors.New("missing proof")
	}
	token, err := jwt.ParseWithClaims(tokenString, &ProofClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(proofIssuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ProofClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid proof")
	}
	if claims.Funnel != funnel {
		return nil, errors.New("proof issued for another funnel")
	}
	return claims, nil
}
