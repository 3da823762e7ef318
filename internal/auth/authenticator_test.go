package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Realm-101/unbuilt-collab/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount() database.User {
	return database.User{
		Id:           1,
		Username:     "alice",
		EmailAddress: "alice@example.com",
		Role:         "member",
	}
}

func TestTokenAuthenticator(t *testing.T) {
	token, err := CreateToken(1, time.Hour, testSigningKey)
	require.NoError(t, err)

	tcases := []struct {
		name     string
		prepare  func(r *http.Request)
		mockUser bool
		err      bool
	}{
		{
			name: "bearer header",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+token)
			},
			mockUser: true,
		},
		{
			name: "query parameter",
			prepare: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", token)
				r.URL.RawQuery = q.Encode()
			},
			mockUser: true,
		},
		{
			name:    "no credential",
			prepare: func(r *http.Request) {},
			err:     true,
		},
		{
			name: "invalid token",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer garbage")
			},
			err: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockAccountRepository{}
			defer db.AssertExpectations(t)
			if tc.mockUser {
				db.On("GetAccountById", 1).Return(testAccount(), nil).Once()
			}

			a := &TokenAuthenticator{SigningKey: testSigningKey, DB: db}

			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tc.prepare(req)

			user, err := a.Authenticate(req)
			if tc.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, 1, user.Id)
			assert.Equal(t, "alice", user.Username)
			assert.Equal(t, "member", user.Role)
		})
	}
}

func TestSessionAuthenticator(t *testing.T) {
	token, err := CreateToken(1, time.Hour, testSigningKey)
	require.NoError(t, err)

	t.Run("valid cookie", func(t *testing.T) {
		db := &database.MockAccountRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 1).Return(testAccount(), nil).Once()

		a := &SessionAuthenticator{SigningKey: testSigningKey, DB: db}

		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: token})

		user, err := a.Authenticate(req)
		require.NoError(t, err)
		assert.Equal(t, 1, user.Id)
	})

	t.Run("no cookie", func(t *testing.T) {
		a := &SessionAuthenticator{SigningKey: testSigningKey, DB: &database.MockAccountRepository{}}

		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		_, err := a.Authenticate(req)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestChain(t *testing.T) {
	token, err := CreateToken(1, time.Hour, testSigningKey)
	require.NoError(t, err)

	newChain := func(db database.AccountRepository) Chain {
		return Chain{
			&TokenAuthenticator{SigningKey: testSigningKey, DB: db},
			&SessionAuthenticator{SigningKey: testSigningKey, DB: db},
		}
	}

	t.Run("first path wins", func(t *testing.T) {
		db := &database.MockAccountRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 1).Return(testAccount(), nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		user, err := newChain(db).Authenticate(req)
		require.NoError(t, err)
		assert.Equal(t, 1, user.Id)
	})

	t.Run("falls through to the cookie path", func(t *testing.T) {
		db := &database.MockAccountRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 1).Return(testAccount(), nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: token})

		user, err := newChain(db).Authenticate(req)
		require.NoError(t, err)
		assert.Equal(t, 1, user.Id)
	})

	t.Run("no path succeeds", func(t *testing.T) {
		db := &database.MockAccountRepository{}

		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		_, err := newChain(db).Authenticate(req)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}
