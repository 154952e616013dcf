package attest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second)
}

func TestClassificationLaw(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   ErrorType
	}{
		{"http 500", 500, `{"detail":"boom"}`, ErrorTypeServer},
		{"http 503", 503, ``, ErrorTypeServer},
		{"http 599", 599, ``, ErrorTypeServer},
		{"http 401", 401, `{"detail":"invalid token"}`, ErrorTypeAuth},
		{"http 403", 403, ``, ErrorTypeAuth},
		{"quota code", 402, `{"error_code":"insufficient_credits","detail":"out of credits"}`, ErrorTypeQuota},
		{"quota code on 400", 400, `{"error_code":"insufficient_credits"}`, ErrorTypeQuota},
		// Unrecognized failures default to the session-invalidating class.
		{"unknown 400", 400, `{"detail":"weird"}`, ErrorTypeAuth},
		{"unknown 418", 418, ``, ErrorTypeAuth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})
			_, err := c.Me(context.Background(), "tok")
			apiErr, ok := AsAPIError(err)
			require.True(t, ok, "expected APIError, got %v", err)
			assert.Equal(t, tc.want, apiErr.Type)
			assert.Equal(t, tc.status, apiErr.StatusCode)
		})
	}
}

func TestTimeoutClassifiedAsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 50*time.Millisecond)
	_, err := c.Me(context.Background(), "tok")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeNetwork, apiErr.Type)
	assert.True(t, apiErr.Retryable())
}

func TestConnectionRefusedClassifiedAsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c := NewClient(srv.URL, time.Second)
	_, err := c.Login(context.Background(), "a@b.c", "pw")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeNetwork, apiErr.Type)
}

func TestLogin(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/token/login/", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "a@b.c", payload["email"])
		assert.Equal(t, "hunter22", payload["password"])

		json.NewEncoder(w).Encode(map[string]string{"auth_token": "tok-123"})
	})

	token, err := c.Login(context.Background(), "a@b.c", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
}

func TestSignupOmitsEmptyUsername(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/users/", r.URL.Path)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, hasUsername := payload["username"]
		assert.False(t, hasUsername)
		json.NewEncoder(w).Encode(map[string]string{"auth_token": "tok-s"})
	})
	token, err := c.Signup(context.Background(), "a@b.c", "hunter22", "")
	require.NoError(t, err)
	assert.Equal(t, "tok-s", token)
}

func TestMeSendsTokenHeader(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token tok-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Profile{ID: 7, Username: "ada", Email: "a@b.c"})
	})

	profile, err := c.Me(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.Equal(t, "ada", profile.Username)
	assert.Equal(t, "a@b.c", profile.Email)
}

func TestSubmitAssetRequiresToken(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be sent without a token")
	})
	_, err := c.SubmitAsset(context.Background(), "", Submission{}, nil)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestSubmitAsset(t *testing.T) {
	imageBytes := []byte("fake-webp-bytes")
	lat, lng, acc := 52.52, 13.405, 12.5

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assets/", r.URL.Path)
		assert.Equal(t, "token tok-123", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		defer f.Close()
		got, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, imageBytes, got)
		assert.True(t, strings.HasSuffix(hdr.Filename, ".webp"))

		assert.Equal(t, "image", r.FormValue("kind"))
		assert.Equal(t, "image/webp", r.FormValue("mime_type"))
		assert.Equal(t, "52.52", r.FormValue("latitude"))
		assert.Equal(t, "13.405", r.FormValue("longitude"))
		assert.Equal(t, "12.5", r.FormValue("accuracy"))
		assert.Equal(t, "https://example.org/page", r.FormValue("source_url"))
		assert.Equal(t, "Example Page", r.FormValue("source_title"))
		assert.NotEmpty(t, r.FormValue("timestamp"))

		json.NewEncoder(w).Encode(map[string]string{"nid": "nid-42"})
	})

	var lastProgress float64
	result, err := c.SubmitAsset(context.Background(), "tok-123", Submission{
		Image:       bytes.NewReader(imageBytes),
		Size:        int64(len(imageBytes)),
		Filename:    "asset.webp",
		MimeType:    "image/webp",
		Kind:        "image",
		Timestamp:   time.Now(),
		Latitude:    &lat,
		Longitude:   &lng,
		Accuracy:    &acc,
		SourceURL:   "https://example.org/page",
		SourceTitle: "Example Page",
	}, func(p float64) { lastProgress = p })
	require.NoError(t, err)
	assert.Equal(t, "nid-42", result.NID)
	assert.Equal(t, 1.0, lastProgress)
}

func TestSubmitAssetOmitsDisabledFields(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Empty(t, r.FormValue("latitude"))
		assert.Empty(t, r.FormValue("source_url"))
		json.NewEncoder(w).Encode(map[string]string{"nid": "nid-1"})
	})
	_, err := c.SubmitAsset(context.Background(), "tok", Submission{
		Image:     strings.NewReader("x"),
		Size:      1,
		Filename:  "a.webp",
		MimeType:  "image/webp",
		Kind:      "image",
		Timestamp: time.Now(),
	}, nil)
	require.NoError(t, err)
}

func TestSubmitAssetFailureClassified(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, `{"error_code":"insufficient_credits"}`)
	})
	_, err := c.SubmitAsset(context.Background(), "tok", Submission{
		Image:     strings.NewReader("x"),
		Size:      1,
		Filename:  "a.webp",
		MimeType:  "image/webp",
		Kind:      "image",
		Timestamp: time.Now(),
	}, nil)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeQuota, apiErr.Type)
	assert.False(t, apiErr.Retryable())
}

func TestDeleteAccount(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/auth/users/me/", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	assert.NoError(t, c.DeleteAccount(context.Background(), "tok"))
}
