package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroscan-portal/internal/auth"
	"github.com/neuroscan-portal/internal/config"
	"github.com/neuroscan-portal/internal/domain"
	"github.com/neuroscan-portal/internal/logging"
	"github.com/neuroscan-portal/internal/pipeline"
	"github.com/neuroscan-portal/internal/query"
	"github.com/neuroscan-portal/internal/repository"
	"github.com/neuroscan-portal/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeInference struct {
	mu      sync.Mutex
	outcome *domain.InferenceOutcome
	err     error
}

func (f *fakeInference) Predict(ctx context.Context, upload domain.UploadRequest, scanType string) (*domain.InferenceOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, f.err
}

func (f *fakeInference) set(outcome *domain.InferenceOutcome, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcome, f.err = outcome, err
}

type testServer struct {
	server    *Server
	inference *fakeInference
	store     *repository.SQLiteStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logging.NewNop()

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	authService := auth.NewService(store, logger)
	ctx := context.Background()
	require.NoError(t, authService.RegisterDoctor(ctx, domain.RegisterRequest{
		Name: "Gregory", Surname: "House", EMBG: "1111111111111", Email: "house@clinic.org", Password: "vicodin",
	}))
	require.NoError(t, authService.RegisterDoctor(ctx, domain.RegisterRequest{
		Name: "James", Surname: "Wilson", EMBG: "2222222222222", Email: "wilson@clinic.org", Password: "oncology",
	}))
	require.NoError(t, authService.Register(ctx, domain.RegisterRequest{
		Name: "Ana", Surname: "Petrova", EMBG: "0101990450001", Email: "ana@mail.com", Password: "secret1",
	}))
	require.NoError(t, authService.Register(ctx, domain.RegisterRequest{
		Name: "Ivan", Surname: "Ivanov", EMBG: "0202990450002", Email: "ivan@mail.com", Password: "secret2",
	}))

	manager, err := config.NewManager("")
	require.NoError(t, err)

	inference := &fakeInference{outcome: &domain.InferenceOutcome{Model: "resnet", Prediction: "glioma", Confidence: 0.93}}

	server := NewServer(manager, Deps{
		Auth:      authService,
		Store:     store,
		Reader:    store,
		Inference: inference,
		Sessions:  session.NewMemoryStorage(100, time.Hour),
		Tokens:    session.NewTokens("api-test-secret-api-test-secret!", time.Hour),
		AuditLog:  io.Discard,
		Logger:    logger,
	})

	return &testServer{server: server, inference: inference, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return ts.do(t, method, path, token, body, "application/json")
}

func (ts *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	w := ts.doJSON(t, http.MethodPost, "/api/v1/session/login", "", credentials{Email: email, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (ts *testServer) selectFile(t *testing.T, token, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return ts.do(t, http.MethodPost, "/api/v1/scans/file", token, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// runScan drives one scan from upload to save and returns the saved record
func (ts *testServer) runScan(t *testing.T, token, patientCode, notes string, rejected bool) domain.DiagnosticRecord {
	t.Helper()
	w := ts.selectFile(t, token, "scan.png", "image/png", []byte("png"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/submit", token, map[string]string{"scan_type": "brain-mri"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/save", token, pipeline.SaveRequest{
		PatientCode: patientCode, Notes: notes, Rejected: rejected,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[struct {
		Record     domain.DiagnosticRecord `json:"record"`
		RedirectTo string                  `json:"redirectTo"`
	}](t, w)
	assert.Equal(t, "/doctor", res.RedirectTo)
	return res.Record
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, w)["status"])

	ts.server.deps.Health = func(context.Context) error { return errors.New("db down") }
	w = ts.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUserContract(t *testing.T) {
	ts := newTestServer(t)

	newUser := domain.RegisterRequest{
		Name: "Mila", Surname: "Stojanova", EMBG: "0303990450003", Email: "mila@mail.com", Password: "pw",
	}
	w := ts.doJSON(t, http.MethodPost, "/user/create", "", newUser)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/user/create", "", newUser)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/user/create", "", map[string]string{"email": "x@y.z"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/user/login", "", credentials{Email: "mila@mail.com", Password: "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	user := decode[map[string]any](t, w)
	assert.Equal(t, "mila@mail.com", user["email"])
	assert.Equal(t, "PATIENT", user["role"])
	assert.Equal(t, "0303990450003", user["embg"])
	assert.NotContains(t, user, "PasswordHash")
	assert.NotContains(t, user, "password")

	w = ts.doJSON(t, http.MethodPost, "/user/login", "", credentials{Email: "mila@mail.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResultContract(t *testing.T) {
	ts := newTestServer(t)

	w := ts.doJSON(t, http.MethodPost, "/result/save", "", domain.CreateRecordRequest{
		Confidence: 0.8, Classification: "meningioma", ModelUsed: "vit", Notes: "follow up",
		PatientCode: "0101990450001", DoctorEmail: "house@clinic.org",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decode[map[string]any](t, w)
	assert.Equal(t, "meningioma", saved["classification"])
	assert.Equal(t, "vit", saved["modelUsed"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, saved["date"])

	w = ts.doJSON(t, http.MethodPost, "/result/save", "", domain.CreateRecordRequest{
		PatientCode: "0101990450001", DoctorEmail: "nobody@clinic.org",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/result/save", "", domain.CreateRecordRequest{DoctorEmail: "house@clinic.org"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/result/doctor/house@clinic.org", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]domain.DiagnosticRecord](t, w), 1)

	w = ts.do(t, http.MethodGet, "/result/patient/ivan@mail.com", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	w = ts.do(t, http.MethodGet, "/result/patient/ghost@mail.com", "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSession_LoginAndLogout(t *testing.T) {
	ts := newTestServer(t)

	w := ts.doJSON(t, http.MethodPost, "/api/v1/session/login", "", credentials{Email: "house@clinic.org", Password: "vicodin"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[LoginResponse](t, w)
	assert.Equal(t, domain.Identity{Username: "house@clinic.org", Role: domain.RoleDoctor}, resp.Identity)
	assert.Equal(t, "/doctor", resp.RedirectTo)

	w = ts.do(t, http.MethodGet, "/api/v1/session", resp.Token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.Identity, decode[domain.Identity](t, w))

	w = ts.do(t, http.MethodPost, "/api/v1/session/logout", resp.Token, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/session", resp.Token, nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/api/v1/session/login", "", credentials{Email: "ana@mail.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestScans_RequireDoctor(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/scans/state", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	patient := ts.login(t, "ana@mail.com", "secret1")
	w = ts.do(t, http.MethodGet, "/api/v1/scans/state", patient, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	apiErr := decode[domain.APIError](t, w)
	assert.Equal(t, "/", apiErr.Redirect)

	doctor := ts.login(t, "house@clinic.org", "vicodin")
	w = ts.do(t, http.MethodGet, "/api/v1/scans/state", doctor, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pipeline.StateIdle, decode[pipeline.Snapshot](t, w).State)
}

func TestScans_FileValidation(t *testing.T) {
	ts := newTestServer(t)
	doctor := ts.login(t, "house@clinic.org", "vicodin")

	w := ts.selectFile(t, doctor, "notes.pdf", "application/pdf", []byte("%PDF"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decode[domain.APIError](t, w)
	assert.Equal(t, domain.ErrCodeValidation, apiErr.Code)
	assert.Equal(t, "Please select a valid image file (JPEG, JPG, PNG)", apiErr.Message)

	big := make([]byte, 10<<20+1)
	w = ts.selectFile(t, doctor, "huge.png", "image/png", big)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "File size must be less than 10MB", decode[domain.APIError](t, w).Message)

	w = ts.do(t, http.MethodGet, "/api/v1/scans/state", doctor, nil, "")
	assert.Equal(t, pipeline.StateIdle, decode[pipeline.Snapshot](t, w).State)

	w = ts.selectFile(t, doctor, "scan.jpg", "image/jpeg", []byte("jpeg"))
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[pipeline.Snapshot](t, w)
	assert.Equal(t, pipeline.StateValidating, snap.State)
	assert.Equal(t, "scan.jpg", snap.FileName)

	w = ts.do(t, http.MethodDelete, "/api/v1/scans/file", doctor, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pipeline.StateIdle, decode[pipeline.Snapshot](t, w).State)

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/submit", doctor, map[string]string{"scan_type": "brain-mri"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrCodeState, decode[domain.APIError](t, w).Code)
}

func TestScans_SubmitAndSave(t *testing.T) {
	ts := newTestServer(t)
	doctor := ts.login(t, "house@clinic.org", "vicodin")

	w := ts.selectFile(t, doctor, "scan.png", "image/png", []byte("png"))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/submit", doctor, map[string]string{"scan_type": " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/submit", doctor, map[string]string{"scan_type": "brain-mri"})
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[pipeline.Snapshot](t, w)
	assert.Equal(t, pipeline.StateReview, snap.State)
	assert.False(t, snap.Degraded)
	assert.Equal(t, &domain.InferenceOutcome{Model: "resnet", Prediction: "glioma", Confidence: 0.93}, snap.Outcome)
	assert.Empty(t, snap.FileName)

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/save", doctor, pipeline.SaveRequest{PatientCode: "0101990450001"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/save", doctor, pipeline.SaveRequest{
		PatientCode: "9999999999999", Notes: "unknown patient",
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/scans/state", doctor, nil, "")
	assert.Equal(t, pipeline.StateReview, decode[pipeline.Snapshot](t, w).State, "outcome kept for retry")

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/save", doctor, pipeline.SaveRequest{
		PatientCode: "0101990450001", Notes: "left temporal lesion",
	})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[pipeline.SaveResult](t, w)
	assert.Equal(t, "/doctor", res.RedirectTo)
	assert.Equal(t, "glioma", res.Record.Classification)
	assert.Equal(t, "house@clinic.org", res.Record.Doctor.Email)
	assert.Equal(t, "ana@mail.com", res.Record.Patient.Email)
}

func TestScans_DegradedAndRejected(t *testing.T) {
	ts := newTestServer(t)
	doctor := ts.login(t, "house@clinic.org", "vicodin")
	ts.inference.set(nil, errors.New("connection refused"))

	w := ts.selectFile(t, doctor, "scan.png", "image/png", []byte("png"))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/submit", doctor, map[string]string{"scan_type": "brain-mri"})
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[pipeline.Snapshot](t, w)
	assert.True(t, snap.Degraded)
	assert.Equal(t, &domain.InferenceOutcome{Model: "vit", Prediction: "tumor", Confidence: 0.5}, snap.Outcome)

	w = ts.doJSON(t, http.MethodPost, "/api/v1/scans/save", doctor, pipeline.SaveRequest{
		PatientCode: "0101990450001", Notes: "image unusable", Rejected: true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[pipeline.SaveResult](t, w)
	assert.Equal(t, "NONE", res.Record.Classification)
	assert.Equal(t, "NONE", res.Record.ModelUsed)
	assert.Zero(t, res.Record.Confidence)
	assert.Equal(t, "image unusable", res.Record.Notes)
}

func TestResults_RoleScopedViews(t *testing.T) {
	ts := newTestServer(t)
	house := ts.login(t, "house@clinic.org", "vicodin")
	wilson := ts.login(t, "wilson@clinic.org", "oncology")

	first := ts.runScan(t, house, "0101990450001", "left temporal lesion", false)
	ts.inference.set(&domain.InferenceOutcome{Model: "vit", Prediction: "meningioma", Confidence: 0.71}, nil)
	ts.runScan(t, wilson, "0101990450001", "frontal mass", false)
	ts.runScan(t, house, "0202990450002", "routine check", true)

	w := ts.do(t, http.MethodGet, "/api/v1/results", house, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[query.View](t, w)
	assert.Equal(t, domain.RoleDoctor, view.Role)
	assert.Equal(t, 2, view.Total)

	w = ts.do(t, http.MethodGet, "/api/v1/results?q=ivan", house, nil, "")
	view = decode[query.View](t, w)
	require.Len(t, view.Records, 1)
	assert.Equal(t, "Ivan", view.Records[0].Patient.Name)

	ana := ts.login(t, "ana@mail.com", "secret1")
	w = ts.do(t, http.MethodGet, "/api/v1/results", ana, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	view = decode[query.View](t, w)
	assert.Equal(t, 2, view.Total)
	assert.Equal(t, []string{"Gregory House", "James Wilson"}, view.Facets)

	w = ts.do(t, http.MethodGet, "/api/v1/results?doctor=james%20wilson", ana, nil, "")
	view = decode[query.View](t, w)
	require.Len(t, view.Records, 1)
	assert.Equal(t, "meningioma", view.Records[0].Classification)

	w = ts.do(t, http.MethodGet, "/api/v1/results?doctor=&sort=classification", ana, nil, "")
	view = decode[query.View](t, w)
	require.Len(t, view.Records, 2)
	assert.Equal(t, query.Ascending, view.Direction)
	assert.Equal(t, "glioma", view.Records[0].Classification)

	w = ts.do(t, http.MethodGet, "/api/v1/results?sort=classification", ana, nil, "")
	view = decode[query.View](t, w)
	assert.Equal(t, query.Descending, view.Direction)
	assert.Equal(t, "meningioma", view.Records[0].Classification)

	w = ts.do(t, http.MethodGet, "/api/v1/results?sort=password", ana, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/results/%d", first.ID), ana, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "left temporal lesion", decode[domain.DiagnosticRecord](t, w).Notes)

	ivan := ts.login(t, "ivan@mail.com", "secret2")
	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/v1/results/%d", first.ID), ivan, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/results/abc", ivan, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/results", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResults_SavedRecordVisibleInList(t *testing.T) {
	ts := newTestServer(t)
	house := ts.login(t, "house@clinic.org", "vicodin")

	w := ts.do(t, http.MethodGet, "/api/v1/results", house, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[query.View](t, w).Total)

	ts.runScan(t, house, "0101990450001", "first", false)

	w = ts.do(t, http.MethodGet, "/api/v1/results", house, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[query.View](t, w).Total, "a save makes the next list read refetch")

	// records saved outside this session need an explicit refresh
	w = ts.doJSON(t, http.MethodPost, "/result/save", "", domain.CreateRecordRequest{
		Confidence: 0.7, Classification: "glioma", ModelUsed: "cnn", Notes: "second",
		PatientCode: "0202990450002", DoctorEmail: "house@clinic.org",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/v1/results", house, nil, "")
	assert.Equal(t, 1, decode[query.View](t, w).Total)

	w = ts.do(t, http.MethodGet, "/api/v1/results?refresh=true", house, nil, "")
	assert.Equal(t, 2, decode[query.View](t, w).Total)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewValidationError("notes", "is required", ""), http.StatusBadRequest, domain.ErrCodeValidation},
		{domain.ErrInvalidCredentials, http.StatusUnauthorized, domain.ErrCodeAuthentication},
		{domain.ErrNotAuthenticated, http.StatusUnauthorized, domain.ErrCodeAuthentication},
		{domain.ErrForbidden, http.StatusForbidden, domain.ErrCodeForbidden},
		{fmt.Errorf("lookup: %w", domain.ErrNotFound), http.StatusNotFound, domain.ErrCodeNotFound},
		{domain.ErrDuplicateUser, http.StatusConflict, domain.ErrCodeConflict},
		{domain.ErrSubmissionInFlight, http.StatusConflict, domain.ErrCodeState},
		{domain.ErrReviewPending, http.StatusConflict, domain.ErrCodeState},
		{fmt.Errorf("%w: timeout", domain.ErrPersistence), http.StatusBadGateway, domain.ErrCodePersistence},
		{fmt.Errorf("%w: timeout", domain.ErrFetch), http.StatusBadGateway, domain.ErrCodeFetch},
		{domain.ErrInferenceUnavailable, http.StatusServiceUnavailable, domain.ErrCodeInference},
		{errors.New("boom"), http.StatusInternalServerError, domain.ErrCodeInternalServer},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
