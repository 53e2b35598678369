package receipt

import (
	"errors"
	"fmt"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a receipt verification token.
type Claims struct {
	jwt.RegisteredClaims
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Stream      string `json:"stream,omitempty"`
	Program     string `json:"program,omitempty"`
	SubmittedAt int64  `json:"submittedAt,omitempty"`
}

// Signer issues and checks HS256 receipt tokens.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSigner builds a signer. An empty secret is rejected.
func NewSigner(secret []byte, issuer string) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("receipt signing secret is empty")
	}
	return &Signer{secret: secret, issuer: issuer, now: time.Now}, nil
}

// Sign produces the verification token for a submitted application.
func (s *Signer) Sign(app *domain.Application) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  app.ID,
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
		Name:    app.FullName,
		Email:   app.Email,
		Stream:  string(app.Stream),
		Program: app.Program,
	}
	if app.SubmittedAt != nil {
		claims.SubmittedAt = app.SubmittedAt.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign receipt token: %w", err)
	}
	return token, nil
}

// Verify parses a token and checks its signature and issuer.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeValidationFailed, "receipt token is invalid", err)
	}
	if !token.Valid {
		return nil, apperror.Validation("receipt token is invalid")
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, apperror.Validation("receipt token issuer mismatch")
	}
	if claims.Subject == "" {
		return nil, apperror.Validation("receipt token has no subject")
	}
	return claims, nil
}
