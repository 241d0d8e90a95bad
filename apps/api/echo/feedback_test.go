package echoapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/feedback"
	"github.com/trezcool/darasa/testutil"
)

func TestFeedbackAPI(t *testing.T) {
	env, srv := setup(t)
	testutil.Tick(t, time.Now(), time.Second)

	admin := env.CreateAdmin(t, "admin")
	alice := env.CreateStudent(t, "alice")
	aliceToken := getToken(t, srv, alice)

	runHTTPTests(t, srv, []httpTest{
		{
			name:     "anonymous",
			method:   http.MethodPost,
			path:     "/v1/feedback",
			body:     []byte(`{"rating":5,"message":"Great"}`),
			wantCode: http.StatusUnauthorized,
			wantData: marshalObj(t, errMissingToken),
		},
		{
			name:     "rating out of range",
			method:   http.MethodPost,
			path:     "/v1/feedback",
			token:    aliceToken,
			body:     []byte(`{"rating":6,"message":"Great"}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty message",
			method:   http.MethodPost,
			path:     "/v1/feedback",
			token:    aliceToken,
			body:     []byte(`{"rating":3,"message":"   "}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "students cannot list",
			method:   http.MethodGet,
			path:     "/v1/feedback",
			token:    aliceToken,
			wantCode: http.StatusForbidden,
			wantData: []byte(`{"error":"permission denied"}`),
		},
	})

	var posted []feedback.Feedback
	for _, body := range []string{`{"rating":4,"message":" Nice "}`, `{"rating":2,"message":"Slow uploads"}`} {
		req, rec := newAuthRequest(http.MethodPost, "/v1/feedback", aliceToken, []byte(body))
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var fb feedback.Feedback
		decode(t, rec, &fb)
		assert.Equal(t, alice.ID, fb.UserID)
		assert.Equal(t, "alice", fb.Username)
		posted = append(posted, fb)
	}
	assert.Equal(t, "Nice", posted[0].Message)

	runHTTPTests(t, srv, []httpTest{
		{
			name:     "admin lists newest first",
			method:   http.MethodGet,
			path:     "/v1/feedback",
			token:    getToken(t, srv, admin),
			wantCode: http.StatusOK,
			wantData: marshalObj(t, []feedback.Feedback{posted[1], posted[0]}),
		},
	})
}
