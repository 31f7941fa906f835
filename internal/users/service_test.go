package users

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"habitat/server/internal/apperror"
	"habitat/server/internal/auth"
	"habitat/server/internal/database"
	"habitat/server/internal/models"
)

type fixture struct {
	db      *gorm.DB
	service *Service
	tokens  *auth.TokenService
	admin   auth.Caller
	adminID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewTestDB()
	require.NoError(t, err)
	require.NoError(t, database.MigrateSchema(db))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tokens := auth.NewTokenService("test-secret", time.Hour)
	service := NewService(db, auth.NewHasher(bcrypt.MinCost), tokens, logger)

	created, err := service.EnsureAdmin(context.Background(), "admin", "admin@habitat.com", "Admin123!")
	require.NoError(t, err)
	require.True(t, created)

	var admin models.User
	require.NoError(t, db.Where("username = ?", "admin").First(&admin).Error)

	return &fixture{
		db:      db,
		service: service,
		tokens:  tokens,
		admin:   auth.Authenticated(&admin),
		adminID: admin.ID,
	}
}

func (f *fixture) create(t *testing.T, username string, role models.Role) *models.User {
	t.Helper()
	user, err := f.service.Create(context.Background(), CreateRequest{
		Username: username,
		Email:    username + "@habitat.com",
		Password: "password1",
		Role:     role,
	}, f.admin)
	require.NoError(t, err)
	return user
}

func strPtr(s string) *string {
	return &s
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.service.Authenticate(ctx, "admin", "Admin123!")
	require.NoError(t, err)
	assert.Equal(t, "bearer", token.TokenType)

	subject, err := f.tokens.Subject(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)

	_, err = f.service.Authenticate(ctx, "admin", "wrong")
	assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))

	_, err = f.service.Authenticate(ctx, "nobody", "Admin123!")
	assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))
}

func TestEnsureAdminOnlyWhenEmpty(t *testing.T) {
	f := newFixture(t)

	created, err := f.service.EnsureAdmin(context.Background(), "second", "second@habitat.com", "Admin123!")
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEnsureAdminWithoutPassword(t *testing.T) {
	db, err := database.NewTestDB()
	require.NoError(t, err)
	require.NoError(t, database.MigrateSchema(db))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	service := NewService(db, auth.NewHasher(bcrypt.MinCost), auth.NewTokenService("s", time.Hour), logger)

	created, err := service.EnsureAdmin(context.Background(), "admin", "admin@habitat.com", "")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := f.create(t, "lucia", "")
	assert.NotZero(t, user.ID)
	assert.Equal(t, models.RoleStaff, user.Role)
	assert.NotEqual(t, "password1", user.PasswordHash)

	_, err := f.service.Authenticate(ctx, "lucia", "password1")
	require.NoError(t, err)

	tests := []struct {
		name string
		req  CreateRequest
		kind apperror.Kind
	}{
		{"duplicate username", CreateRequest{Username: "lucia", Email: "other@habitat.com", Password: "password1"}, apperror.KindConflict},
		{"duplicate email", CreateRequest{Username: "other", Email: "lucia@habitat.com", Password: "password1"}, apperror.KindConflict},
		{"missing username", CreateRequest{Email: "x@habitat.com", Password: "password1"}, apperror.KindInvalidInput},
		{"bad email", CreateRequest{Username: "x", Email: "nope", Password: "password1"}, apperror.KindInvalidInput},
		{"short password", CreateRequest{Username: "x", Email: "x@habitat.com", Password: "short"}, apperror.KindInvalidInput},
		{"unknown role", CreateRequest{Username: "x", Email: "x@habitat.com", Password: "password1", Role: "owner"}, apperror.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Create(ctx, tt.req, f.admin)
			assert.True(t, apperror.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestAdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	manager := f.create(t, "marta", models.RoleManager)
	caller := auth.Authenticated(manager)

	_, err := f.service.List(ctx, 0, 0, caller)
	assert.True(t, apperror.Is(err, apperror.KindUnauthorized))

	_, err = f.service.Get(ctx, f.adminID, auth.Anonymous())
	assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))

	_, err = f.service.Create(ctx, CreateRequest{Username: "x", Email: "x@habitat.com", Password: "password1"}, caller)
	assert.True(t, apperror.Is(err, apperror.KindUnauthorized))

	err = f.service.Delete(ctx, f.adminID, caller)
	assert.True(t, apperror.Is(err, apperror.KindUnauthorized))
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lucia := f.create(t, "lucia", models.RoleStaff)
	f.create(t, "pablo", models.RoleManager)

	users, err := f.service.List(ctx, 0, 0, f.admin)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "admin", users[0].Username)

	users, err = f.service.List(ctx, 1, 1, f.admin)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "lucia", users[0].Username)

	got, err := f.service.Get(ctx, lucia.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, "lucia@habitat.com", got.Email)

	_, err = f.service.Get(ctx, 999, f.admin)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lucia := f.create(t, "lucia", models.RoleStaff)
	f.create(t, "pablo", models.RoleStaff)

	manager := models.RoleManager
	updated, err := f.service.Update(ctx, lucia.ID, UpdateRequest{Role: &manager, Password: strPtr("newpassword")}, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleManager, updated.Role)
	assert.Equal(t, "lucia", updated.Username)

	_, err = f.service.Authenticate(ctx, "lucia", "newpassword")
	require.NoError(t, err)
	_, err = f.service.Authenticate(ctx, "lucia", "password1")
	assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))

	// Keeping its own username is not a conflict.
	_, err = f.service.Update(ctx, lucia.ID, UpdateRequest{Username: strPtr("lucia")}, f.admin)
	require.NoError(t, err)

	_, err = f.service.Update(ctx, lucia.ID, UpdateRequest{Username: strPtr("pablo")}, f.admin)
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	_, err = f.service.Update(ctx, lucia.ID, UpdateRequest{Password: strPtr("x")}, f.admin)
	assert.True(t, apperror.Is(err, apperror.KindInvalidInput))

	_, err = f.service.Update(ctx, 999, UpdateRequest{Username: strPtr("ghost")}, f.admin)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestDeleteDetachesReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lucia := f.create(t, "lucia", models.RoleStaff)

	property := models.Property{
		Title:           "Casa",
		Status:          models.PropertyStatusAvailable,
		AssignedToID:    &lucia.ID,
		CreatedByUserID: &lucia.ID,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, f.db.Create(&property).Error)
	contact := models.Contact{Name: "Ana", Message: "Hola", AssignedToID: &lucia.ID, SubmittedAt: time.Now()}
	require.NoError(t, f.db.Omit("AssignedTo").Create(&contact).Error)

	require.NoError(t, f.service.Delete(ctx, lucia.ID, f.admin))

	var reloaded models.Property
	require.NoError(t, f.db.First(&reloaded, property.ID).Error)
	assert.Nil(t, reloaded.AssignedToID)
	assert.Nil(t, reloaded.CreatedByUserID)

	var reloadedContact models.Contact
	require.NoError(t, f.db.First(&reloadedContact, contact.ID).Error)
	assert.Nil(t, reloadedContact.AssignedToID)

	_, err := f.service.Get(ctx, lucia.ID, f.admin)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	err = f.service.Delete(ctx, lucia.ID, f.admin)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	err = f.service.Delete(ctx, f.adminID, f.admin)
	assert.True(t, apperror.Is(err, apperror.KindInvalidInput))
}

func TestMe(t *testing.T) {
	f := newFixture(t)

	me, err := f.service.Me(f.admin)
	require.NoError(t, err)
	assert.Equal(t, "admin", me.Username)

	_, err = f.service.Me(auth.Anonymous())
	assert.True(t, apperror.Is(err, apperror.KindUnauthenticated))
}
