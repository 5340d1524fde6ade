package credential

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeRefresher struct {
	token *oauth2.Token
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

func newMockCredentialStore(t *testing.T, refreshers map[Provider]Refresher) (Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewStore(sqlxDB, "deployment-secret", "default-owner@example.com", refreshers), mock
}

var credentialColumns = []string{
	"owner_user_id", "owner_email", "provider", "access_token_enc",
	"refresh_token_enc", "token_type", "scope", "expires_at", "updated_at",
}

func TestGetFallsBackFromUserToEmailToDefaultOwner(t *testing.T) {
	store, mock := newMockCredentialStore(t, nil)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT .* FROM oauth_credentials WHERE owner_user_id = \$1 AND provider = \$2`).
		WithArgs("user-1", "google").
		WillReturnRows(sqlmock.NewRows(credentialColumns))
	mock.ExpectQuery(`SELECT .* FROM oauth_credentials WHERE owner_email = \$1 AND provider = \$2`).
		WithArgs("user1@example.com", "google").
		WillReturnRows(sqlmock.NewRows(credentialColumns))
	mock.ExpectQuery(`SELECT .* FROM oauth_credentials WHERE owner_email = \$1 AND provider = \$2`).
		WithArgs("default-owner@example.com", "google").
		WillReturnRows(sqlmock.NewRows(credentialColumns).AddRow(
			nil, "default-owner@example.com", "google", []byte("enc-access"), []byte("enc-refresh"),
			"Bearer", "calendar", nil, time.Now(),
		))

	cred, err := store.Get(ctx, "user-1", "user1@example.com", ProviderGoogle)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "default-owner@example.com", cred.OwnerEmail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshIfNeededReturnsCachedTokenWhenFresh(t *testing.T) {
	store, mock := newMockCredentialStore(t, map[Provider]Refresher{})
	ctx := context.Background()

	c := newCipher("deployment-secret")
	accessEnc, err := c.seal("live-token")
	require.NoError(t, err)
	farFuture := time.Now().Add(time.Hour)

	mock.ExpectQuery(`SELECT .* FROM oauth_credentials WHERE owner_user_id = \$1 AND provider = \$2`).
		WithArgs("user-1", "google").
		WillReturnRows(sqlmock.NewRows(credentialColumns).AddRow(
			"user-1", "user1@example.com", "google", accessEnc, nil, "Bearer", "calendar", farFuture, time.Now(),
		))

	token, err := store.RefreshIfNeeded(ctx, "user-1", "", ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "live-token", token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshIfNeededRefreshesAndPreservesRefreshTokenWhenResponseOmitsOne(t *testing.T) {
	refresher := &fakeRefresher{token: &oauth2.Token{AccessToken: "new-token", Expiry: time.Now().Add(time.Hour)}}
	store, mock := newMockCredentialStore(t, map[Provider]Refresher{ProviderGoogle: refresher})
	ctx := context.Background()

	c := newCipher("deployment-secret")
	accessEnc, err := c.seal("stale-token")
	require.NoError(t, err)
	refreshEnc, err := c.seal("refresh-token-abc")
	require.NoError(t, err)
	almostExpired := time.Now().Add(30 * time.Second)

	mock.ExpectQuery(`SELECT .* FROM oauth_credentials WHERE owner_user_id = \$1 AND provider = \$2`).
		WithArgs("user-1", "google").
		WillReturnRows(sqlmock.NewRows(credentialColumns).AddRow(
			"user-1", "user1@example.com", "google", accessEnc, refreshEnc, "Bearer", "calendar", almostExpired, time.Now(),
		))
	mock.ExpectExec(`INSERT INTO oauth_credentials`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, err := store.RefreshIfNeeded(ctx, "user-1", "", ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "new-token", token)
	assert.Equal(t, 1, refresher.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutEncryptsBeforeWriting(t *testing.T) {
	store, mock := newMockCredentialStore(t, nil)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO oauth_credentials`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Put(ctx, "user-1", "user1@example.com", ProviderGoogle, "access", "refresh", "Bearer", "calendar", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
