package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Claims bind a winner token to the campaign and publisher it was issued for.
type Claims struct {
	CampaignID string `json:"campaignId"`
	Publisher  string `json:"publisher"`
	Domain     string `json:"domain"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 winner tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token whose ID is unique per auction win.
func (i *Issuer) Issue(campaignID, publisher, domain string) (string, error) {
	now := i.now()
	claims := Claims{
		CampaignID: campaignID,
		Publisher:  publisher,
		Domain:     domain,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    "prism-devserver",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.ID == "" || claims.CampaignID == "" {
		return nil, errors.New("token missing campaign or id")
	}
	return claims, nil
}
