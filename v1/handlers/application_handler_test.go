package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-dx/grant-engine/v1/middleware"
	"github.com/campus-dx/grant-engine/v1/models"
	"github.com/campus-dx/grant-engine/v1/services"
	"github.com/campus-dx/grant-engine/v1/storage"
)

var (
	testStudent = models.Actor{ID: "stu_001", Role: models.RoleStudent}
	testGuide   = models.Actor{ID: "gui_001", Role: models.RoleGuide}
	testAdmin   = models.Actor{ID: "adm_001", Role: models.RoleAdmin}
)

func setupHandler(t *testing.T) *ApplicationHandler {
	t.Helper()

	db := services.SetupSQLiteTestDB(t)
	store, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	svc := services.NewSubmissionService(db, store, services.NewLogNotificationSink())
	return NewApplicationHandler(svc)
}

func asActor(req *http.Request, actor models.Actor) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), actor))
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) models.SubmissionResult {
	t.Helper()
	var result models.SubmissionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func createApplication(t *testing.T, h *ApplicationHandler, actor models.Actor, req models.SubmissionRequest) models.SubmissionResult {
	t.Helper()
	httpReq := asActor(jsonRequest(t, "POST", "/api/v1/applications", req), actor)
	w := httptest.NewRecorder()
	h.Submit(w, httpReq)
	require.Equal(t, http.StatusCreated, w.Code, "create failed: %s", w.Body.String())
	return decodeResult(t, w)
}

func TestHealthCheck(t *testing.T) {
	h := setupHandler(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h.HealthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestSubmit_CreateJSON(t *testing.T) {
	h := setupHandler(t)

	result := createApplication(t, h, testStudent, models.SubmissionRequest{
		FormType: models.FormUG1,
		FieldDelta: map[string]any{
			"projectTitle":     "Campus weather station",
			"sanctionedAmount": 5000,
		},
	})

	assert.Regexp(t, `^app_`, result.ApplicationID)
	assert.Equal(t, "Campus weather station", result.PersistedFields["projectTitle"])
	require.Len(t, result.RejectedFields, 1)
	assert.Equal(t, models.ReasonNotAuthorized, result.RejectedFields[0].Reason)
}

func TestSubmit_CreateMultipartWithFiles(t *testing.T) {
	h := setupHandler(t)

	payload, err := json.Marshal(models.SubmissionRequest{
		FormType:   models.FormUG1,
		FieldDelta: map[string]any{"projectTitle": "Filter design"},
	})
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("payload", string(payload)))

	part, err := mw.CreateFormFile("slot.studentSignature", "sign.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/v1/applications", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = asActor(req, testStudent)
	w := httptest.NewRecorder()
	h.Submit(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decodeResult(t, w)
	assert.Equal(t, "Filter design", result.PersistedFields["projectTitle"])
	require.Contains(t, result.AttachmentResults, "studentSignature")
	require.Len(t, result.AttachmentResults["studentSignature"].Accepted, 1)
	assert.Equal(t, "sign.png", result.AttachmentResults["studentSignature"].Accepted[0].OriginalName)
}

func TestSubmit_WithoutActor(t *testing.T) {
	h := setupHandler(t)

	req := jsonRequest(t, "POST", "/api/v1/applications", models.SubmissionRequest{FormType: models.FormUG1})
	w := httptest.NewRecorder()
	h.Submit(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmit_UnsupportedFormType(t *testing.T) {
	h := setupHandler(t)

	req := asActor(jsonRequest(t, "POST", "/api/v1/applications", models.SubmissionRequest{FormType: "XX9"}), testStudent)
	w := httptest.NewRecorder()
	h.Submit(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(models.ErrorCodeUnsupportedFormType))
}

func TestSubmit_InvalidJSON(t *testing.T) {
	h := setupHandler(t)

	req := httptest.NewRequest("POST", "/api/v1/applications", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	req = asActor(req, testStudent)
	w := httptest.NewRecorder()
	h.Submit(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdate_FieldDelta(t *testing.T) {
	h := setupHandler(t)

	created := createApplication(t, h, testStudent, models.SubmissionRequest{
		FormType:   models.FormUG1,
		FieldDelta: map[string]any{"projectTitle": "Draft"},
	})

	req := asActor(jsonRequest(t, "PATCH", fmt.Sprintf("/api/v1/applications/%s", created.ApplicationID), models.SubmissionRequest{
		FieldDelta: map[string]any{"projectTitle": "Final"},
	}), testStudent)
	req.SetPathValue("applicationId", created.ApplicationID)
	w := httptest.NewRecorder()
	h.Update(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decodeResult(t, w)
	assert.Equal(t, "Final", result.PersistedFields["projectTitle"])
}

func TestUpdate_NotFound(t *testing.T) {
	h := setupHandler(t)

	req := asActor(jsonRequest(t, "PATCH", "/api/v1/applications/app_missing", models.SubmissionRequest{
		FieldDelta: map[string]any{"projectTitle": "x"},
	}), testStudent)
	req.SetPathValue("applicationId", "app_missing")
	w := httptest.NewRecorder()
	h.Update(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGet_OwnerAndForbidden(t *testing.T) {
	h := setupHandler(t)

	created := createApplication(t, h, testStudent, models.SubmissionRequest{FormType: models.FormUG1})

	req := asActor(httptest.NewRequest("GET", "/api/v1/applications/"+created.ApplicationID, nil), testStudent)
	req.SetPathValue("applicationId", created.ApplicationID)
	w := httptest.NewRecorder()
	h.Get(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var app models.ApplicationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &app))
	assert.Equal(t, created.ApplicationID, app.ApplicationID)
	assert.Equal(t, string(models.StatusPending), app.Status)

	other := models.Actor{ID: "stu_999", Role: models.RoleStudent}
	req = asActor(httptest.NewRequest("GET", "/api/v1/applications/"+created.ApplicationID, nil), other)
	req.SetPathValue("applicationId", created.ApplicationID)
	w = httptest.NewRecorder()
	h.Get(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestList_StudentSeesOwnOnly(t *testing.T) {
	h := setupHandler(t)

	createApplication(t, h, testStudent, models.SubmissionRequest{FormType: models.FormUG1})
	createApplication(t, h, models.Actor{ID: "stu_999", Role: models.RoleStudent}, models.SubmissionRequest{FormType: models.FormR1})

	req := asActor(httptest.NewRequest("GET", "/api/v1/applications", nil), testStudent)
	w := httptest.NewRecorder()
	h.List(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Applications []models.ApplicationResponse `json:"applications"`
		Count        int                          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, testStudent.ID, listing.Applications[0].OwnerID)

	req = asActor(httptest.NewRequest("GET", "/api/v1/applications", nil), testGuide)
	w = httptest.NewRecorder()
	h.List(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, 2, listing.Count)
}

func TestDelete_AdminOnly(t *testing.T) {
	h := setupHandler(t)

	created := createApplication(t, h, testStudent, models.SubmissionRequest{FormType: models.FormUG1})

	req := asActor(httptest.NewRequest("DELETE", "/api/v1/applications/"+created.ApplicationID, nil), testStudent)
	req.SetPathValue("applicationId", created.ApplicationID)
	w := httptest.NewRecorder()
	h.Delete(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = asActor(httptest.NewRequest("DELETE", "/api/v1/applications/"+created.ApplicationID, nil), testAdmin)
	req.SetPathValue("applicationId", created.ApplicationID)
	w = httptest.NewRecorder()
	h.Delete(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDownloadAttachment(t *testing.T) {
	h := setupHandler(t)

	payload, err := json.Marshal(models.SubmissionRequest{FormType: models.FormUG1})
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("payload", string(payload)))
	part, err := mw.CreateFormFile("slot.studentSignature", "sign.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/v1/applications", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = asActor(req, testStudent)
	w := httptest.NewRecorder()
	h.Submit(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	result := decodeResult(t, w)
	attID := result.AttachmentResults["studentSignature"].Accepted[0].AttachmentID

	dlReq := asActor(httptest.NewRequest("GET", "/api/v1/attachments/"+attID, nil), testStudent)
	dlReq.SetPathValue("attachmentId", attID)
	dlW := httptest.NewRecorder()
	h.DownloadAttachment(dlW, dlReq)

	require.Equal(t, http.StatusOK, dlW.Code)
	assert.Equal(t, []byte("png-bytes"), dlW.Body.Bytes())
	assert.Contains(t, dlW.Header().Get("Content-Disposition"), "sign.png")

	missing := asActor(httptest.NewRequest("GET", "/api/v1/attachments/att_missing", nil), testStudent)
	missing.SetPathValue("attachmentId", "att_missing")
	missW := httptest.NewRecorder()
	h.DownloadAttachment(missW, missing)
	assert.Equal(t, http.StatusNotFound, missW.Code)
}
