package echoapi

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core/classroom"
	"github.com/trezcool/darasa/core/progress"
	"github.com/trezcool/darasa/testutil"
)

func TestClassAPI_classes(t *testing.T) {
	env, srv := setup(t)
	testutil.Tick(t, time.Now(), time.Second)

	admin := env.CreateAdmin(t, "admin")
	other := env.CreateAdmin(t, "other")
	alice := env.CreateStudent(t, "alice")
	outsider := env.CreateStudent(t, "outsider")
	adminToken, aliceToken := getToken(t, srv, admin), getToken(t, srv, alice)

	var cls classroom.Class
	t.Run("admin creates a class", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/classes", adminToken, []byte(`{"name":" Maths ","description":"Numbers"}`))
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &cls)
		assert.Equal(t, "Maths", cls.Name)
		assert.Equal(t, admin.ID, cls.OwnerID)
	})
	require.NotEmpty(t, cls.ID)

	runHTTPTests(t, srv, []httpTest{
		{
			name:     "students cannot create classes",
			method:   http.MethodPost,
			path:     "/v1/classes",
			token:    aliceToken,
			body:     []byte(`{"name":"Physics"}`),
			wantCode: http.StatusForbidden,
			wantData: []byte(`{"error":"permission denied"}`),
		},
		{
			name:     "name is required",
			method:   http.MethodPost,
			path:     "/v1/classes",
			token:    adminToken,
			body:     []byte(`{"name":"  "}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "join unknown class",
			method:   http.MethodPost,
			path:     "/v1/classes/join",
			token:    aliceToken,
			body:     []byte(`{"class_code":"nope"}`),
			wantCode: http.StatusNotFound,
			wantData: []byte(`{"error":"class not found"}`),
		},
		{
			name:     "admins cannot join",
			method:   http.MethodPost,
			path:     "/v1/classes/join",
			token:    adminToken,
			body:     marshalObj(t, classroom.JoinClass{ClassCode: cls.ID}),
			wantCode: http.StatusForbidden,
			wantData: []byte(`{"error":"students only: permission denied"}`),
		},
		{
			name:     "not enrolled",
			method:   http.MethodGet,
			path:     "/v1/classes/" + cls.ID,
			token:    getToken(t, srv, outsider),
			wantCode: http.StatusForbidden,
			wantData: []byte(`{"error":"not enrolled in this class: permission denied"}`),
		},
		{
			name:     "only the owner updates",
			method:   http.MethodPut,
			path:     "/v1/classes/" + cls.ID,
			token:    getToken(t, srv, other),
			body:     []byte(`{"name":"Stolen"}`),
			wantCode: http.StatusForbidden,
			wantData: []byte(`{"error":"class belongs to another admin: permission denied"}`),
		},
		{
			name:     "owner lists classes",
			method:   http.MethodGet,
			path:     "/v1/classes",
			token:    adminToken,
			wantCode: http.StatusOK,
			wantData: marshalObj(t, []classroom.Class{cls}),
		},
		{
			name:     "other admin has none",
			method:   http.MethodGet,
			path:     "/v1/classes",
			token:    getToken(t, srv, other),
			wantCode: http.StatusOK,
			wantData: []byte(`[]`),
		},
	})

	t.Run("student joins twice", func(t *testing.T) {
		var first JoinResponse
		for i := 0; i < 2; i++ {
			req, rec := newAuthRequest(http.MethodPost, "/v1/classes/join", aliceToken, marshalObj(t, classroom.JoinClass{ClassCode: cls.ID}))
			srv.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp JoinResponse
			decode(t, rec, &resp)
			assert.Equal(t, cls.ID, resp.Class.ID)
			if i == 0 {
				first = resp
			} else {
				assert.Equal(t, first.Enrollment, resp.Enrollment)
			}
		}

		req, rec := newAuthRequest(http.MethodGet, "/v1/classes", aliceToken)
		srv.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshalObj(t, []classroom.Class{cls})}, rec)
	})

	t.Run("enrolled student sees the class", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/classes/"+cls.ID, aliceToken)
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var detail progress.ClassDetail
		decode(t, rec, &detail)
		assert.Equal(t, cls.ID, detail.Class.ID)
		require.Len(t, detail.Members, 1)
		assert.Equal(t, alice.ID, detail.Members[0].ID)
		assert.Nil(t, detail.Progress)
		require.NotNil(t, detail.MyProgress)
		assert.Equal(t, 0, detail.MyProgress.Total)
	})

	t.Run("owner updates", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPut, "/v1/classes/"+cls.ID, adminToken, []byte(`{"name":"Mathematics"}`))
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var updated classroom.Class
		decode(t, rec, &updated)
		assert.Equal(t, "Mathematics", updated.Name)
	})

	t.Run("owner deletes", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/classes/"+cls.ID, adminToken)
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		req, rec = newAuthRequest(http.MethodGet, "/v1/classes/"+cls.ID, adminToken)
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		req, rec = newAuthRequest(http.MethodGet, "/v1/classes", aliceToken)
		srv.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`[]`)}, rec)
	})
}

func TestClassAPI_coursework(t *testing.T) {
	env, srv := setup(t)
	testutil.Tick(t, time.Now(), time.Second)

	admin := env.CreateAdmin(t, "admin")
	other := env.CreateAdmin(t, "other")
	alice := env.CreateStudent(t, "alice")
	bob := env.CreateStudent(t, "bob")
	adminToken, aliceToken, bobToken := getToken(t, srv, admin), getToken(t, srv, alice), getToken(t, srv, bob)

	cls := env.CreateClass(t, admin, "Maths")
	env.Join(t, alice, cls)
	env.Join(t, bob, cls)
	geometry := env.CreateAssignment(t, admin, cls, "Geometry")

	var algebra classroom.Assignment
	t.Run("owner creates an assignment", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/classes/"+cls.ID+"/assignments", adminToken,
			[]byte(`{"title":"Algebra","description":"Chapter 1","due_date":"2024-03-10"}`))
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, &algebra)
		assert.Equal(t, cls.ID, algebra.ClassID)
		assert.Equal(t, "2024-03-10", algebra.DueDate)
	})
	require.NotEmpty(t, algebra.ID)

	asgmtPath := "/v1/classes/" + cls.ID + "/assignments/" + algebra.ID

	runHTTPTests(t, srv, []httpTest{
		{
			name:     "another admin cannot add assignments",
			method:   http.MethodPost,
			path:     "/v1/classes/" + cls.ID + "/assignments",
			token:    getToken(t, srv, other),
			body:     []byte(`{"title":"Stolen"}`),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "enrolled student views an assignment",
			method:   http.MethodGet,
			path:     "/v1/assignments/" + algebra.ID,
			token:    aliceToken,
			wantCode: http.StatusOK,
			wantData: marshalObj(t, AssignmentResponse{Assignment: algebra, Class: cls}),
		},
		{
			name:     "unknown assignment",
			method:   http.MethodGet,
			path:     "/v1/assignments/nope",
			token:    aliceToken,
			wantCode: http.StatusNotFound,
			wantData: []byte(`{"error":"assignment not found"}`),
		},
		{
			name:     "assignment of another class",
			method:   http.MethodPut,
			path:     "/v1/classes/" + env.CreateClass(t, admin, "Physics").ID + "/assignments/" + algebra.ID,
			token:    adminToken,
			body:     []byte(`{"title":"Moved"}`),
			wantCode: http.StatusNotFound,
		},
		{
			name:     "marks without submissions",
			method:   http.MethodPut,
			path:     asgmtPath + "/students/" + alice.ID + "/marks",
			token:    adminToken,
			body:     []byte(`{"marks":50}`),
			wantCode: http.StatusNotFound,
			wantData: []byte(`{"error":"submission not found"}`),
		},
	})

	t.Run("uploads", func(t *testing.T) {
		path := "/v1/assignments/" + algebra.ID + "/submissions"

		req, rec := newUploadRequest(t, path, aliceToken, "", "")
		srv.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"file":"no selected file"}`)}, rec)

		req, rec = newUploadRequest(t, path, aliceToken, "virus.exe", "MZ")
		srv.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"file":"invalid file type"}`)}, rec)

		req, rec = newUploadRequest(t, path, adminToken, "answers.pdf", "%PDF")
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		req, rec = newUploadRequest(t, path, aliceToken, "answers.pdf", "%PDF-1.4 alice")
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var sub classroom.Submission
		decode(t, rec, &sub)
		assert.Equal(t, algebra.ID+"_answers.pdf", sub.Filename)
		assert.Nil(t, sub.Marks)

		t.Run("download", func(t *testing.T) {
			for _, token := range []string{aliceToken, adminToken} {
				req, rec := newAuthRequest(http.MethodGet, "/v1/submissions/"+sub.ID+"/file", token)
				srv.ServeHTTP(rec, req)
				require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
				body, err := io.ReadAll(rec.Body)
				require.NoError(t, err)
				assert.Equal(t, "%PDF-1.4 alice", string(body))
				assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
				assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
			}

			req, rec := newAuthRequest(http.MethodGet, "/v1/submissions/"+sub.ID+"/file", bobToken)
			srv.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	})

	// a second file from alice and one from bob
	env.Submit(t, alice, algebra, "answers-v2.pdf", "%PDF-1.4 alice again")
	env.Submit(t, bob, algebra, "bob.txt", "bob")

	runHTTPTests(t, srv, []httpTest{
		{
			name:     "marks out of range",
			method:   http.MethodPut,
			path:     asgmtPath + "/students/" + alice.ID + "/marks",
			token:    adminToken,
			body:     []byte(`{"marks":101}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"marks":"marks must be between 0 and 100"}`),
		},
		{
			name:     "marks as text",
			method:   http.MethodPut,
			path:     asgmtPath + "/students/" + alice.ID + "/marks",
			token:    adminToken,
			body:     []byte(`{"marks":"eighty"}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"marks":"invalid marks input"}`),
		},
		{
			name:     "students cannot grade",
			method:   http.MethodPut,
			path:     asgmtPath + "/students/" + alice.ID + "/marks",
			token:    aliceToken,
			body:     []byte(`{"marks":100}`),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "marks as numeric string grade every file",
			method:   http.MethodPut,
			path:     asgmtPath + "/students/" + alice.ID + "/marks",
			token:    adminToken,
			body:     []byte(`{"marks":" 85 "}`),
			wantCode: http.StatusOK,
			wantData: []byte(`{"updated":2}`),
		},
		{
			name:     "students cannot list submissions",
			method:   http.MethodGet,
			path:     asgmtPath + "/submissions",
			token:    aliceToken,
			wantCode: http.StatusForbidden,
		},
	})

	t.Run("grouped submissions", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, asgmtPath+"/submissions", adminToken)
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var groups []classroom.StudentSubmissions
		decode(t, rec, &groups)
		require.Len(t, groups, 2)
		assert.Equal(t, alice.ID, groups[0].StudentID)
		assert.Equal(t, []string{algebra.ID + "_answers.pdf", algebra.ID + "_answers-v2.pdf"}, groups[0].Files)
		require.NotNil(t, groups[0].Marks)
		assert.Equal(t, 85, *groups[0].Marks)
		assert.Equal(t, "bob", groups[1].StudentName)
		assert.Nil(t, groups[1].Marks)
	})

	t.Run("student files", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, asgmtPath+"/students/"+bob.ID+"/files", adminToken)
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var subs []classroom.Submission
		decode(t, rec, &subs)
		require.Len(t, subs, 1)
		assert.Equal(t, algebra.ID+"_bob.txt", subs[0].Filename)
	})

	t.Run("class progress", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/classes/"+cls.ID+"/progress", adminToken)
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var rows []progress.Row
		decode(t, rec, &rows)
		require.Len(t, rows, 2)
		assert.Equal(t, alice.ID, rows[0].StudentID)
		assert.Equal(t, 2, rows[0].Total)
		assert.Equal(t, 1, rows[0].Completed)
		assert.Equal(t, 50.0, rows[0].ProgressPercent)
		assert.Equal(t, 85.0, rows[0].AverageMarks)
		assert.Equal(t, progress.StatusModerate, rows[0].Status)
		assert.Equal(t, bob.ID, rows[1].StudentID)
		assert.Equal(t, 0.0, rows[1].AverageMarks)

		req, rec = newAuthRequest(http.MethodGet, "/v1/classes/"+cls.ID+"/progress", aliceToken)
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("student progress", func(t *testing.T) {
		path := "/v1/classes/" + cls.ID + "/progress/" + alice.ID
		for _, token := range []string{aliceToken, adminToken} {
			req, rec := newAuthRequest(http.MethodGet, path, token)
			srv.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var page progress.StudentPage
			decode(t, rec, &page)
			assert.Equal(t, alice.ID, page.Student.ID)
			assert.Equal(t, 50.0, page.Report.ProgressPercent)
			require.Len(t, page.Chart, 2)
		}

		req, rec := newAuthRequest(http.MethodGet, path, bobToken)
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("deleting an assignment", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/v1/classes/"+cls.ID+"/assignments/"+geometry.ID, adminToken)
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		req, rec = newAuthRequest(http.MethodGet, "/v1/assignments/"+geometry.ID, aliceToken)
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		req, rec = newAuthRequest(http.MethodGet, "/v1/classes/"+cls.ID+"/progress/"+alice.ID, aliceToken)
		srv.ServeHTTP(rec, req)
		var page progress.StudentPage
		decode(t, rec, &page)
		assert.Equal(t, 1, page.Report.Total)
		assert.Equal(t, 100.0, page.Report.ProgressPercent)
		assert.Equal(t, progress.StatusExcellent, page.Report.Status)
	})

	t.Run("metrics", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/metrics")
		srv.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), `darasa_http_requests_total{code="201",method="POST",route="/v1/assignments/:id/submissions"}`))
	})
}
