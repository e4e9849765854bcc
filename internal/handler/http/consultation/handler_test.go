package consultation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"teleclinic-backend/internal/domain"
	consultationsvc "teleclinic-backend/internal/service/consultation"
	apperrors "teleclinic-backend/pkg/errors"
)

// stubConsultationRepo records list calls; the other operations are unused
// by the routes under test.
type stubConsultationRepo struct {
	mu        sync.Mutex
	listCalls []uuid.UUID
}

func (s *stubConsultationRepo) Create(_ context.Context, _ *domain.Consultation) error {
	return nil
}

func (s *stubConsultationRepo) GetByID(_ context.Context, _ uuid.UUID) (*domain.Consultation, error) {
	return nil, apperrors.NotFoundError("consultation not found")
}

func (s *stubConsultationRepo) ListForUser(_ context.Context, userID uuid.UUID, _ domain.Role, _, _ int) ([]*domain.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls = append(s.listCalls, userID)
	return []*domain.Consultation{}, nil
}

func (s *stubConsultationRepo) UpdateStatus(_ context.Context, _ uuid.UUID, _ domain.ConsultationStatus) error {
	return nil
}

func (s *stubConsultationRepo) ListCalls() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.listCalls...)
}

func listRouter(repo *stubConsultationRepo, userID uuid.UUID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	svc := consultationsvc.NewService(repo, nil, nil, nil)
	h := NewHandler(svc, nil, nil)

	router := gin.New()
	router.GET("/videocall/list", func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("role", role)
	}, h.List)
	return router
}

func doList(router *gin.Engine, query string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/videocall/list"+query, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestList_WithoutSelectorsUsesAuthContext(t *testing.T) {
	repo := &stubConsultationRepo{}
	userID := uuid.New()
	router := listRouter(repo, userID, string(domain.RoleDoctor))

	w := doList(router, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uuid.UUID{userID}, repo.ListCalls())
}

func TestList_MatchingSelectorsAccepted(t *testing.T) {
	repo := &stubConsultationRepo{}
	userID := uuid.New()
	router := listRouter(repo, userID, string(domain.RoleDoctor))

	// Role comparison is case-insensitive, matching the status endpoint
	w := doList(router, "?userId="+userID.String()+"&role=doctor")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uuid.UUID{userID}, repo.ListCalls())
}

func TestList_ForeignUserIDRejected(t *testing.T) {
	repo := &stubConsultationRepo{}
	router := listRouter(repo, uuid.New(), string(domain.RolePatient))

	w := doList(router, "?userId="+uuid.New().String())

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, repo.ListCalls())
}

func TestList_MalformedUserIDRejected(t *testing.T) {
	repo := &stubConsultationRepo{}
	router := listRouter(repo, uuid.New(), string(domain.RolePatient))

	w := doList(router, "?userId=not-a-uuid")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, repo.ListCalls())
}

func TestList_MismatchedRoleRejected(t *testing.T) {
	repo := &stubConsultationRepo{}
	router := listRouter(repo, uuid.New(), string(domain.RolePatient))

	w := doList(router, "?role=DOCTOR")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, repo.ListCalls())
}
