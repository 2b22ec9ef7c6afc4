package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/sakif/catalog/internal/apperror"
	"github.com/sakif/catalog/internal/auth"
	"github.com/sakif/catalog/internal/metrics"
	"github.com/sakif/catalog/internal/model"
	"github.com/sakif/catalog/internal/repository"
)

// OAuth failure reasons carried in apperror.OAuthFailed.
const (
	OAuthNoToken       = "no token"
	OAuthProfileFailed = "profile fetch failed"
)

// AuthService owns local accounts, password login and OAuth account linking.
//
// DEPENDENCIES (injected via NewAuthService):
//   - store      repository.Store        → users and OAuth links
//   - passwords  *auth.PasswordService   → bcrypt hashing
//   - tokens     *auth.TokenService      → session tokens
//   - metrics    *metrics.Metrics        → login and OAuth counters
//   - logger     *slog.Logger            → structured logging
type AuthService struct {
	store     repository.Store
	passwords *auth.PasswordService
	tokens    *auth.TokenService
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// dummyHash is compared against when the username is unknown so a
	// failed login costs the same bcrypt time either way.
	dummyHash string
}

func NewAuthService(
	store repository.Store,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	dummy, _ := passwords.Hash("dummy-password-for-timing")
	return &AuthService{
		store:     store,
		passwords: passwords,
		tokens:    tokens,
		metrics:   m,
		logger:    logger,
		dummyHash: dummy,
	}
}

// AuthResult bundles the signed-in user and the session token to set as a
// cookie, so the handler can respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register creates a local account. password must equal confirm. A taken
// username is a validation error on the username field.
func (s *AuthService) Register(ctx context.Context, username, password, confirm string) (*model.User, error) {
	username, err := cleanName("username", username, MaxUsernameLength)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	if password != confirm {
		return nil, apperror.ValidationFailed("confirm", "Passwords must match")
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	user := &model.User{Username: username, PasswordHash: hash}
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if _, err := tx.GetUserByUsername(ctx, username); err == nil {
			return usernameTaken()
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return err
		}

		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				return usernameTaken()
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

func usernameTaken() error {
	return apperror.ValidationFailed("username", "This username is already taken.")
}

// Authenticate checks a username/password pair. Unknown usernames and wrong
// passwords produce the same apperror.Unauthorized, and take the same time.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("login lookup failed", slog.String("error", err.Error()))
			return nil, err
		}
		s.passwords.Matches(s.dummyHash, password)
		return nil, apperror.Unauthorized()
	}

	if !s.passwords.Matches(user.PasswordHash, password) {
		return nil, apperror.Unauthorized()
	}
	return user, nil
}

// Login authenticates and issues a session token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		s.metrics.Logins.WithLabelValues("password", "failure").Inc()
		return nil, err
	}

	token, err := s.tokens.Generate(user.ID, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.metrics.Logins.WithLabelValues("password", "success").Inc()
	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// Logout revokes every session token issued to the user so far, on every
// device.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.store.RevokeSessions(ctx, userID); err != nil {
		return fmt.Errorf("service/auth: revoking sessions of user %s: %w", userID, err)
	}
	s.logger.Info("user logged out", slog.String("userID", userID))
	return nil
}

// GetUser returns the user with the given ID. It satisfies auth.UserLoader.
func (s *AuthService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.store.GetUser(ctx, id)
}

// LinkOAuth runs the OAuth callback state machine and signs the linked user in.
//
//  1. No token                   → OAuthFailed("no token"), nothing written
//  2. Profile fetch fails        → OAuthFailed("profile fetch failed")
//  3. Link (provider, remote id) exists → refresh its token, sign in its user
//  4. No link                    → create User (random password) + link in
//     one transaction, sign in the new user
//
// Two concurrent first logins for the same remote account race on step 4.
// The sqlite store takes the write lock when the transaction begins, so the
// second caller waits and its lookup already sees the first link. Stores
// without that guarantee fall back on UNIQUE(provider, provider_user_id): the
// loser's write fails with a Conflict and it starts over from a fresh lookup,
// landing in step 3.
func (s *AuthService) LinkOAuth(ctx context.Context, provider auth.Provider, token *oauth2.Token) (*AuthResult, error) {
	name := provider.Name()

	if token == nil || token.AccessToken == "" {
		s.metrics.OAuthLinks.WithLabelValues(name, "failed").Inc()
		return nil, apperror.OAuthFailed(OAuthNoToken)
	}

	profile, err := provider.FetchProfile(ctx, token)
	if err != nil {
		s.metrics.OAuthLinks.WithLabelValues(name, "failed").Inc()
		s.logger.Warn("oauth profile fetch failed",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		return nil, apperror.OAuthFailed(OAuthProfileFailed)
	}

	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("service/auth: encoding oauth token: %w", err)
	}

	// Hashing is slow, so do it once outside the transaction and the retry.
	random, err := auth.RandomPassword()
	if err != nil {
		return nil, err
	}
	pwdhash, err := s.passwords.Hash(random)
	if err != nil {
		return nil, err
	}

	var user *model.User
	for attempt := 1; ; attempt++ {
		var created bool
		user, created, err = s.linkOnce(ctx, name, profile, string(tokenJSON), pwdhash)
		if err == nil {
			outcome := "linked"
			if created {
				outcome = "created"
			}
			s.metrics.OAuthLinks.WithLabelValues(name, outcome).Inc()
			break
		}
		if attempt == 1 && errors.Is(err, apperror.ErrConflict) {
			s.metrics.OAuthLinks.WithLabelValues(name, "retried").Inc()
			s.logger.Warn("oauth link race lost, retrying",
				slog.String("provider", name),
				slog.String("remoteID", profile.ID),
			)
			continue
		}
		s.metrics.OAuthLinks.WithLabelValues(name, "failed").Inc()
		return nil, fmt.Errorf("service/auth: linking %s account %s: %w", name, profile.ID, err)
	}

	sessionToken, err := s.tokens.Generate(user.ID, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	s.metrics.Logins.WithLabelValues(name, "success").Inc()
	s.logger.Info("user authenticated via oauth",
		slog.String("provider", name),
		slog.String("userID", user.ID),
	)
	return &AuthResult{User: user, Token: sessionToken}, nil
}

// linkOnce is one lookup-then-write pass of LinkOAuth inside a transaction.
func (s *AuthService) linkOnce(ctx context.Context, provider string, profile *auth.Profile, tokenJSON, pwdhash string) (*model.User, bool, error) {
	var (
		user    *model.User
		created bool
	)

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		link, err := tx.GetLink(ctx, provider, profile.ID)
		switch {
		case err == nil:
			user, err = tx.GetUser(ctx, link.UserID)
			if errors.Is(err, apperror.ErrNotFound) {
				// The link outlived its user: bind it to a fresh account.
				user, err = s.createOAuthUser(ctx, tx, provider, profile, pwdhash)
				created = true
			}
			if err != nil {
				return err
			}
			link.UserID = user.ID
			link.Token = tokenJSON
			return tx.UpdateLink(ctx, link)

		case errors.Is(err, apperror.ErrNotFound):
			user, err = s.createOAuthUser(ctx, tx, provider, profile, pwdhash)
			if err != nil {
				return err
			}
			created = true
			return tx.CreateLink(ctx, &model.OAuthLink{
				Provider:       provider,
				ProviderUserID: profile.ID,
				Token:          tokenJSON,
				UserID:         user.ID,
			})

		default:
			return err
		}
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// createOAuthUser takes the remote login as username, or
// "<login>-<provider>-<remote id>" when a local account already owns it.
func (s *AuthService) createOAuthUser(ctx context.Context, tx repository.Store, provider string, profile *auth.Profile, pwdhash string) (*model.User, error) {
	username := profile.Login
	if username == "" {
		username = profile.Name
	}
	if username == "" {
		username = provider + "-" + profile.ID
	}

	if _, err := tx.GetUserByUsername(ctx, username); err == nil {
		username = fmt.Sprintf("%s-%s-%s", username, provider, profile.ID)
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	user := &model.User{Username: username, PasswordHash: pwdhash}
	if err := tx.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateAdmin creates an administrator, or promotes and resets the password
// of an existing user with that name. Used by the create-admin command.
func (s *AuthService) CreateAdmin(ctx context.Context, username, password string) (*model.User, error) {
	username, err := cleanName("username", username, MaxUsernameLength)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}

	var user *model.User
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		existing, err := tx.GetUserByUsername(ctx, username)
		switch {
		case err == nil:
			existing.Admin = true
			existing.PasswordHash = hash
			existing.TokenVersion++
			user = existing
			return tx.UpdateUser(ctx, existing)
		case errors.Is(err, apperror.ErrNotFound):
			user = &model.User{Username: username, PasswordHash: hash, Admin: true}
			return tx.CreateUser(ctx, user)
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("admin account ready", slog.String("username", user.Username))
	return user, nil
}
