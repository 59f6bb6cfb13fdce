package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jobtrackr/apiserver/internal/auth"
	"github.com/jobtrackr/apiserver/internal/services"
	"github.com/jobtrackr/apiserver/internal/store"
	"github.com/jobtrackr/apiserver/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// --- in-memory fakes ---

type fakeUserRepo struct {
	users  map[int]types.User
	nextID int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int]types.User), nextID: 1}
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	user, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) List(ctx context.Context) ([]types.User, error) {
	users := make([]types.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	if _, err := f.GetByEmail(ctx, user.Email); err == nil {
		return types.User{}, store.ErrDuplicate
	}
	user.ID = f.nextID
	f.nextID++
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user types.User) (types.User, error) {
	if _, ok := f.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id int) error {
	if _, ok := f.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

type fakeJobRepo struct {
	jobs   map[int]types.Job
	nextID int
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[int]types.Job), nextID: 1}
}

func (f *fakeJobRepo) ListByOwner(ctx context.Context, ownerID int) ([]types.Job, error) {
	jobs := make([]types.Job, 0)
	for _, job := range f.jobs {
		if job.UserID == ownerID {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].AppliedDate.Equal(jobs[j].AppliedDate) {
			return jobs[i].AppliedDate.After(jobs[j].AppliedDate)
		}
		return jobs[i].ID > jobs[j].ID
	})
	return jobs, nil
}

func (f *fakeJobRepo) GetByOwner(ctx context.Context, id, ownerID int) (types.Job, error) {
	job, ok := f.jobs[id]
	if !ok || job.UserID != ownerID {
		return types.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeJobRepo) Create(ctx context.Context, job types.Job) (types.Job, error) {
	if job.Status == "" {
		job.Status = types.StatusApplied
	}
	job.ID = f.nextID
	f.nextID++
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobRepo) Update(ctx context.Context, job types.Job) (types.Job, error) {
	existing, ok := f.jobs[job.ID]
	if !ok || existing.UserID != job.UserID {
		return types.Job{}, store.ErrNotFound
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobRepo) SetResume(ctx context.Context, id, ownerID int, key, filename string) error {
	job, ok := f.jobs[id]
	if !ok || job.UserID != ownerID {
		return store.ErrNotFound
	}
	job.ResumeKey = key
	job.ResumeFilename = filename
	f.jobs[id] = job
	return nil
}

func (f *fakeJobRepo) Delete(ctx context.Context, id, ownerID int) error {
	job, ok := f.jobs[id]
	if !ok || job.UserID != ownerID {
		return store.ErrNotFound
	}
	delete(f.jobs, id)
	return nil
}

type recordedEvent struct {
	scope   string
	ownerID int
	kind    string
	payload any
}

type fakeNotifier struct {
	events []recordedEvent
	err    error
}

func (f *fakeNotifier) PublishOwnerEvent(ctx context.Context, ownerID int, kind string, payload any) error {
	f.events = append(f.events, recordedEvent{scope: "owner", ownerID: ownerID, kind: kind, payload: payload})
	return f.err
}

func (f *fakeNotifier) PublishAdminEvent(ctx context.Context, kind string, payload any) error {
	f.events = append(f.events, recordedEvent{scope: "admin", kind: kind, payload: payload})
	return f.err
}

// --- test harness ---

type testEnv struct {
	router   *chi.Mux
	tokens   *auth.TokenService
	users    *fakeUserRepo
	jobs     *fakeJobRepo
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tokens, err := auth.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	userRepo := newFakeUserRepo()
	jobRepo := newFakeJobRepo()
	notifier := &fakeNotifier{}

	userService := services.NewUserService(userRepo)
	jobService := services.NewJobService(jobRepo, nil)

	log := logrus.New()
	log.SetOutput(io.Discard)

	authMiddleware := RequireAuth(tokens, userService)

	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, userService, tokens)
	})
	router.Route("/jobs", func(r chi.Router) {
		r.Use(authMiddleware)
		JobRouter(r, jobService, notifier, log)
	})
	router.Route("/users", func(r chi.Router) {
		r.Use(authMiddleware, RequireRole(types.RoleAdmin))
		UserRouter(r, userService)
	})

	return &testEnv{
		router:   router,
		tokens:   tokens,
		users:    userRepo,
		jobs:     jobRepo,
		notifier: notifier,
	}
}

// addUser seeds an account and returns it with a valid token.
func (e *testEnv) addUser(t *testing.T, email, password, role string) (types.User, string) {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := e.users.Create(context.Background(), types.User{
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
		PasswordHash: string(hashed),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := e.tokens.Issue(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return user, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(rec.Body.Bytes(), &value); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return value
}
