// Package syndicate implements cross-instance content sharing with the
// two-token JWT pattern: a long-lived refresh token identifies a registered
// client, and short-lived access tokens authorize individual content reads.
package syndicate

import (
	"context"
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	lru "github.com/hashicorp/golang-lru/v2"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/strata-cms/strata/capability"
	"github.com/strata-cms/strata/helper/uuid"
	"github.com/strata-cms/strata/state"
	"github.com/strata-cms/strata/structs"
)

// AccessTokenTTL is the lifetime of an issued access token.
const AccessTokenTTL = 60 * time.Second

// verifyCacheSize bounds the verified-token cache.
const verifyCacheSize = 512

// Claims is the payload of both refresh and access tokens.
type Claims struct {
	Username string `json:"username"`
	Client   string `json:"client"`
	jwt.RegisteredClaims
}

// Service issues and verifies syndication tokens and owns the client rows.
type Service struct {
	logger    hclog.Logger
	triggered *state.TriggeredStore

	refreshSecret []byte
	accessSecret  []byte

	// verified caches accepted access tokens until their expiry.
	verified *lru.Cache[string, *Claims]

	// now is swappable for expiry tests.
	now func() time.Time
}

// New returns a syndication service signing with the two given secrets.
func New(logger hclog.Logger, triggered *state.TriggeredStore, refreshSecret, accessSecret string) (*Service, error) {
	if refreshSecret == "" || accessSecret == "" {
		return nil, fmt.Errorf("syndicate requires both refresh and access secrets")
	}
	cache, err := lru.New[string, *Claims](verifyCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		logger:        logger.Named("syndicate"),
		triggered:     triggered,
		refreshSecret: []byte(refreshSecret),
		accessSecret:  []byte(accessSecret),
		verified:      cache,
		now:           time.Now,
	}, nil
}

// Create registers clientName for the calling identity and returns the
// persisted client row carrying its refresh token. Re-creating an existing
// (user, client) pair rotates the refresh token in place.
func (s *Service) Create(ctx context.Context, clientName string, ident *capability.Identity) (*structs.SyndicateClient, error) {
	if clientName == "" {
		return nil, fmt.Errorf("client name must not be empty")
	}
	if ident == nil || ident.Username == "" {
		return nil, structs.ErrPermissionDenied
	}

	token, err := s.sign(ident.Username, clientName, s.refreshSecret, 0)
	if err != nil {
		return nil, err
	}

	row, err := s.triggered.Store().SyndicateClientByName(ident.Username, clientName)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = &structs.SyndicateClient{
			ObjectID:   uuid.Short(),
			Username:   ident.Username,
			ClientName: clientName,
			CreateTime: s.now().UTC(),
		}
	}
	row.RefreshToken = token

	if err := s.triggered.Save(ctx, state.ClassSyndicateClient, row, nil); err != nil {
		return nil, err
	}
	s.logger.Info("registered syndication client", "client", clientName, "user", ident.Username)
	return row, nil
}

// Token exchanges a refresh token for a fresh access token with
// exp = iat + 60s. The refresh token must verify against the refresh secret
// and match a persisted client row.
func (s *Service) Token(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.parse(refreshToken, s.refreshSecret)
	if err != nil {
		metrics.IncrCounter([]string{"strata", "syndicate", "refresh_rejected"}, 1)
		return "", structs.ErrPermissionDenied
	}

	row, err := s.triggered.Store().SyndicateClientByName(claims.Username, claims.Client)
	if err != nil {
		return "", err
	}
	if row == nil || row.RefreshToken != refreshToken {
		metrics.IncrCounter([]string{"strata", "syndicate", "refresh_rejected"}, 1)
		return "", structs.ErrPermissionDenied
	}

	return s.sign(claims.Username, claims.Client, s.accessSecret, AccessTokenTTL)
}

// Verify returns the access token's claims when the signature matches the
// access secret and the token has not expired. Holders of the bypass
// capability skip verification entirely.
func (s *Service) Verify(_ context.Context, accessToken string, ident *capability.Identity) (*Claims, bool) {
	if ident.Has(capability.SyndicateBypass) {
		return nil, true
	}

	if claims, ok := s.verified.Get(accessToken); ok {
		if claims.ExpiresAt != nil && s.now().Before(claims.ExpiresAt.Time) {
			return claims, true
		}
		s.verified.Remove(accessToken)
		return nil, false
	}

	claims, err := s.parse(accessToken, s.accessSecret)
	if err != nil {
		return nil, false
	}
	if claims.ExpiresAt == nil || !s.now().Before(claims.ExpiresAt.Time) {
		return nil, false
	}

	s.verified.Add(accessToken, claims)
	return claims, true
}

func (s *Service) sign(username, client string, secret []byte, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		Username: username,
		Client:   client,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Service) parse(token string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Username == "" || claims.Client == "" {
		return nil, fmt.Errorf("incomplete token payload")
	}
	return claims, nil
}
