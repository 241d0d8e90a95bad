package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

const contextTokenKey = "userToken"

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64  `json:"oriat,omitempty"`
	Username     string `json:"username,omitempty"`
	Role         string `json:"role,omitempty"`
}

func (c Claims) Identity() user.Identity {
	return user.Identity{UserID: c.Subject, Username: c.Username, Role: c.Role}
}

// authenticator issues and refreshes the tokens checked by the JWT middleware.
type authenticator struct {
	config          middleware.JWTConfig
	issuer          string
	expiration      time.Duration
	refreshDeadline time.Duration
}

func newAuthenticator(conf *core.Config) *authenticator {
	return &authenticator{
		config: middleware.JWTConfig{
			SigningKey:    []byte(conf.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    contextTokenKey,
			Claims:        new(Claims),
		},
		issuer:          conf.AppName,
		expiration:      conf.Server.JWTExpirationDelta,
		refreshDeadline: conf.Server.JWTRefreshExpirationDelta,
	}
}

func (a *authenticator) userClaims(usr user.User, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    a.issuer,
			Subject:   usr.ID,
			Audience:  "Classroom",
			ExpiresAt: now.Add(a.expiration).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Username:     usr.Username,
		Role:         usr.Role,
	}
}

// generateToken generates a signed JWT token string representing the user Claims.
func (a *authenticator) generateToken(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(a.config.SigningMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString(a.config.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// refresh issues a new token for the caller, as long as the first token of the session
// was issued within the refresh window.
func (a *authenticator) refresh(ctx echo.Context, svc *user.Service) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", err
	}

	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(a.refreshDeadline)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	// the account may have been deleted or renamed since
	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if core.IsNotFound(err) {
			return "", errUnauthorized
		}
		return "", errors.Wrap(err, "finding user by ID")
	}
	return a.generateToken(a.userClaims(usr, claims.OrigIssuedAt))
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// callerIdentity returns the identity carried by the request's token.
func callerIdentity(ctx echo.Context) (user.Identity, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.Identity{}, err
	}
	return claims.Identity(), nil
}
