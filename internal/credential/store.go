package credential

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// Refresher exchanges a refresh token for a new access token. Implemented
// per Provider; the Google implementation lives in google.go.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Store persists Credentials and refreshes them on demand, envelope
// encrypting every stored token at rest.
type Store interface {
	// Get resolves a credential by owner user id, falling back to owner
	// email, then to a configured default owner.
	Get(ctx context.Context, ownerUserID, ownerEmail string, provider Provider) (*Credential, error)

	// Put upserts a credential, encrypting accessToken/refreshToken before
	// the write. An empty refreshToken leaves any previously stored
	// refresh token untouched (a refresh response without one must not
	// erase the prior grant).
	Put(ctx context.Context, userID, ownerEmail string, provider Provider, accessToken, refreshToken, tokenType, scope string, expiresAt *time.Time) error

	// RefreshIfNeeded returns the resolved credential's plaintext access
	// token, refreshing and persisting a new one first if the stored token
	// is within 60 seconds of expiry.
	RefreshIfNeeded(ctx context.Context, ownerUserID, ownerEmail string, provider Provider) (plainAccessToken string, err error)
}

type store struct {
	db        *sqlx.DB
	cipher    *cipher
	refresher map[Provider]Refresher
	defaultOwnerEmail string
}

// NewStore builds a Postgres-backed credential Store. secret derives the
// envelope-encryption key; defaultOwnerEmail is the last-resort owner used
// when neither ownerUserID nor ownerEmail resolves a stored credential.
func NewStore(db *sqlx.DB, secret, defaultOwnerEmail string, refreshers map[Provider]Refresher) Store {
	return &store{
		db:                db,
		cipher:            newCipher(secret),
		refresher:         refreshers,
		defaultOwnerEmail: defaultOwnerEmail,
	}
}

type credentialRow struct {
	OwnerUserID     sql.NullString `db:"owner_user_id"`
	OwnerEmail      string         `db:"owner_email"`
	Provider        string         `db:"provider"`
	AccessTokenEnc  []byte         `db:"access_token_enc"`
	RefreshTokenEnc []byte         `db:"refresh_token_enc"`
	TokenType       sql.NullString `db:"token_type"`
	Scope           sql.NullString `db:"scope"`
	ExpiresAt       sql.NullTime   `db:"expires_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *credentialRow) toCredential() *Credential {
	c := &Credential{
		OwnerUserID:     r.OwnerUserID.String,
		OwnerEmail:      r.OwnerEmail,
		Provider:        Provider(r.Provider),
		AccessTokenEnc:  r.AccessTokenEnc,
		RefreshTokenEnc: r.RefreshTokenEnc,
		TokenType:       r.TokenType.String,
		Scope:           r.Scope.String,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		c.ExpiresAt = &t
	}
	return c
}

func (s *store) fetchByUser(ctx context.Context, userID string, provider Provider) (*Credential, error) {
	if userID == "" {
		return nil, nil
	}
	const q = `
		SELECT owner_user_id, owner_email, provider, access_token_enc, refresh_token_enc, token_type, scope, expires_at, updated_at
		FROM oauth_credentials WHERE owner_user_id = $1 AND provider = $2`
	var row credentialRow
	err := sqlx.GetContext(ctx, s.db, &row, q, userID, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load credential by user")
	}
	return row.toCredential(), nil
}

func (s *store) fetchByEmail(ctx context.Context, email string, provider Provider) (*Credential, error) {
	if email == "" {
		return nil, nil
	}
	const q = `
		SELECT owner_user_id, owner_email, provider, access_token_enc, refresh_token_enc, token_type, scope, expires_at, updated_at
		FROM oauth_credentials WHERE owner_email = $1 AND provider = $2`
	var row credentialRow
	err := sqlx.GetContext(ctx, s.db, &row, q, email, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load credential by email")
	}
	return row.toCredential(), nil
}

func (s *store) Get(ctx context.Context, ownerUserID, ownerEmail string, provider Provider) (*Credential, error) {
	if c, err := s.fetchByUser(ctx, ownerUserID, provider); err != nil {
		return nil, err
	} else if c != nil {
		return c, nil
	}
	if c, err := s.fetchByEmail(ctx, ownerEmail, provider); err != nil {
		return nil, err
	} else if c != nil {
		return c, nil
	}
	if s.defaultOwnerEmail != "" {
		return s.fetchByEmail(ctx, s.defaultOwnerEmail, provider)
	}
	return nil, nil
}

func (s *store) Put(ctx context.Context, userID, ownerEmail string, provider Provider, accessToken, refreshToken, tokenType, scope string, expiresAt *time.Time) error {
	accessEnc, err := s.cipher.seal(accessToken)
	if err != nil {
		return errors.Wrap(err, "failed to seal access token")
	}

	var refreshEnc []byte
	if refreshToken != "" {
		refreshEnc, err = s.cipher.seal(refreshToken)
		if err != nil {
			return errors.Wrap(err, "failed to seal refresh token")
		}
	}

	const q = `
		INSERT INTO oauth_credentials (owner_user_id, owner_email, provider, access_token_enc, refresh_token_enc, token_type, scope, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (owner_email, provider) DO UPDATE SET
			owner_user_id = COALESCE(NULLIF(EXCLUDED.owner_user_id, ''), oauth_credentials.owner_user_id),
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = CASE WHEN EXCLUDED.refresh_token_enc IS NULL OR length(EXCLUDED.refresh_token_enc) = 0
				THEN oauth_credentials.refresh_token_enc ELSE EXCLUDED.refresh_token_enc END,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`
	_, err = s.db.ExecContext(ctx, q, nullIfEmpty(userID), ownerEmail, provider, accessEnc, refreshEnc, nullIfEmpty(tokenType), nullIfEmpty(scope), expiresAt)
	if err != nil {
		return errors.Wrap(err, "failed to upsert credential")
	}
	return nil
}

func (s *store) RefreshIfNeeded(ctx context.Context, ownerUserID, ownerEmail string, provider Provider) (string, error) {
	c, err := s.Get(ctx, ownerUserID, ownerEmail, provider)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", errors.Errorf("credential not found for provider %s", provider)
	}

	accessToken, err := s.cipher.open(c.AccessTokenEnc)
	if err != nil {
		return "", errors.Wrap(err, "failed to open access token")
	}

	if !c.needsRefresh(time.Now().UTC()) {
		return accessToken, nil
	}

	refresher, ok := s.refresher[provider]
	if !ok {
		return "", errors.Errorf("no refresher configured for provider %s", provider)
	}
	refreshToken, err := s.cipher.open(c.RefreshTokenEnc)
	if err != nil {
		return "", errors.Wrap(err, "failed to open refresh token")
	}
	if refreshToken == "" {
		return "", errors.Errorf("credential for provider %s has no refresh token", provider)
	}

	tok, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return "", errors.Wrap(err, "failed to refresh token")
	}
	if tok.AccessToken == "" {
		return "", errors.New("refresh response missing access_token")
	}

	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		t := tok.Expiry
		expiresAt = &t
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = c.TokenType
	}

	ownerKey := ownerEmail
	if ownerKey == "" {
		ownerKey = c.OwnerEmail
	}
	if err := s.Put(ctx, c.OwnerUserID, ownerKey, provider, tok.AccessToken, "", tokenType, c.Scope, expiresAt); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
