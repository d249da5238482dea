package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	RoleOperator = "operator"

	headerBearer = "Bearer"
)

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// OperatorClaims identify a human or service allowed to drive admin routes.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var ErrAuthDisabled = errors.New("no jwt secret configured")

type AuthMiddleware struct {
	secret []byte
	issuer string
}

func NewAuthMiddleware(config AuthConfig) *AuthMiddleware {
	if config.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret is empty, admin routes will reject every request")
	}
	return &AuthMiddleware{
		secret: []byte(config.JWTSecret),
		issuer: config.Issuer,
	}
}

// IssueToken signs an HS256 token for subject valid for ttl.
func (am *AuthMiddleware) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	if len(am.secret) == 0 {
		return "", ErrAuthDisabled
	}
	now := time.Now()
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    am.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(am.secret)
}

func (am *AuthMiddleware) ValidateToken(tokenString string) (*OperatorClaims, error) {
	if len(am.secret) == 0 {
		return nil, ErrAuthDisabled
	}

	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if am.issuer != "" {
		options = append(options, jwt.WithIssuer(am.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, options...)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

func (am *AuthMiddleware) ValidateFromRequest(ctx *fasthttp.RequestCtx) (*OperatorClaims, error) {
	tokenString, err := extractJWTFromAuthorizationHeader(string(ctx.Request.Header.Peek("Authorization")))
	if err != nil {
		return nil, err
	}
	return am.ValidateToken(tokenString)
}

func (am *AuthMiddleware) RequireAuth(handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		claims, err := am.ValidateFromRequest(ctx)
		if err != nil {
			log.Debug().Err(err).Str("path", string(ctx.Path())).Msg("Authentication failed")
			ctx.Error("Unauthorized", fasthttp.StatusUnauthorized)
			return
		}

		ctx.SetUserValue("operator", claims)

		handler(ctx)
	}
}

func (am *AuthMiddleware) RequireRole(role string, handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return am.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		claims, ok := ctx.UserValue("operator").(*OperatorClaims)
		if !ok || claims.Role != role {
			log.Warn().Str("path", string(ctx.Path())).Msg("Insufficient permissions")
			ctx.Error("Forbidden", fasthttp.StatusForbidden)
			return
		}

		handler(ctx)
	})
}

func extractJWTFromAuthorizationHeader(authHeader string) (string, error) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != headerBearer {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return parts[1], nil
}
