package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"habitat/server/internal/apperror"
	"habitat/server/internal/auth"
	"habitat/server/internal/contact"
	"habitat/server/internal/geometry"
	"habitat/server/internal/models"
	"habitat/server/internal/property"
	"habitat/server/internal/settings"
	"habitat/server/internal/team"
	"habitat/server/internal/upload"
	"habitat/server/internal/users"
)

// Services are the components the HTTP surface delegates to.
type Services struct {
	DB         *gorm.DB
	Users      *users.Service
	Properties *property.Service
	Settings   *settings.Store
	Contacts   *contact.Service
	Team       *team.Service
	Uploads    *upload.Gateway
}

type Handler struct {
	db         *gorm.DB
	users      *users.Service
	properties *property.Service
	settings   *settings.Store
	contacts   *contact.Service
	team       *team.Service
	uploads    *upload.Gateway
	logger     *logrus.Logger
}

type pageQuery struct {
	Skip  int `form:"skip"`
	Limit int `form:"limit"`
}

type propertyQuery struct {
	pageQuery
	Search       string   `form:"search"`
	PropertyType string   `form:"property_type"`
	ListingType  string   `form:"listing_type"`
	MinPrice     *float64 `form:"min_price"`
	MaxPrice     *float64 `form:"max_price"`
	MinBedrooms  *int     `form:"min_bedrooms"`
	MaxBedrooms  *int     `form:"max_bedrooms"`
	MinBathrooms *int     `form:"min_bathrooms"`
	MaxBathrooms *int     `form:"max_bathrooms"`
	MinArea      *float64 `form:"min_area"`
	MaxArea      *float64 `form:"max_area"`
	MinLat       *float64 `form:"min_lat"`
	MinLng       *float64 `form:"min_lng"`
	MaxLat       *float64 `form:"max_lat"`
	MaxLng       *float64 `form:"max_lng"`
	Featured     *bool    `form:"featured"`
}

type tokenRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type userCreateRequest struct {
	Username string      `json:"username" binding:"required,max=150"`
	Email    string      `json:"email" binding:"required,email"`
	Password string      `json:"password" binding:"required"`
	Role     models.Role `json:"role"`
}

type userUpdateRequest struct {
	Username *string      `json:"username" binding:"omitempty,max=150"`
	Email    *string      `json:"email" binding:"omitempty,email"`
	Password *string      `json:"password"`
	Role     *models.Role `json:"role"`
}

type contactRequest struct {
	Name       string  `json:"name" binding:"required,max=255"`
	Email      *string `json:"email" binding:"omitempty,email"`
	Phone      *string `json:"phone" binding:"omitempty,max=50"`
	Subject    *string `json:"subject" binding:"omitempty,max=255"`
	Message    string  `json:"message" binding:"required"`
	PropertyID *int64  `json:"property_id"`
}

type forwardRequest struct {
	RecipientEmail string `json:"recipient_email" binding:"omitempty,email"`
}

func NewHandler(s Services, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Handler{
		db:         s.DB,
		users:      s.Users,
		properties: s.Properties,
		settings:   s.Settings,
		contacts:   s.Contacts,
		team:       s.Team,
		uploads:    s.Uploads,
		logger:     logger,
	}
}

func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.WithError(err).Error("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// pathID parses the :id route parameter.
func (h *Handler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(c, apperror.InvalidInput("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

// Users

func (h *Handler) Login(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	token, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.users.Me(callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) ListUsers(c *gin.Context) {
	var page pageQuery
	if err := c.ShouldBindQuery(&page); err != nil {
		h.badRequest(c, err)
		return
	}

	list, err := h.users.List(c.Request.Context(), page.Skip, page.Limit, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetUser(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	user, err := h.users.Get(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req userCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	user, err := h.users.Create(c.Request.Context(), users.CreateRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	}, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) UpdateUser(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req userUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	user, err := h.users.Update(c.Request.Context(), id, users.UpdateRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	}, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.users.Delete(c.Request.Context(), id, callerFrom(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Properties

func (h *Handler) ListProperties(c *gin.Context) {
	criteria, ok := h.propertyCriteria(c)
	if !ok {
		return
	}
	list, err := h.properties.List(c.Request.Context(), criteria, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// PropertyMap returns the matching listings as a GeoJSON FeatureCollection.
func (h *Handler) PropertyMap(c *gin.Context) {
	criteria, ok := h.propertyCriteria(c)
	if !ok {
		return
	}
	list, err := h.properties.List(c.Request.Context(), criteria, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, geometry.ListingCollection(list))
}

func (h *Handler) propertyCriteria(c *gin.Context) (property.Criteria, bool) {
	var q propertyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return property.Criteria{}, false
	}

	bounds, err := property.BoundsFromCorners(q.MinLat, q.MinLng, q.MaxLat, q.MaxLng)
	if err != nil {
		h.respondError(c, err)
		return property.Criteria{}, false
	}

	return property.Criteria{
		Skip:         q.Skip,
		Limit:        q.Limit,
		Search:       q.Search,
		PropertyType: q.PropertyType,
		ListingType:  q.ListingType,
		MinPrice:     q.MinPrice,
		MaxPrice:     q.MaxPrice,
		MinBedrooms:  q.MinBedrooms,
		MaxBedrooms:  q.MaxBedrooms,
		MinBathrooms: q.MinBathrooms,
		MaxBathrooms: q.MaxBathrooms,
		MinArea:      q.MinArea,
		MaxArea:      q.MaxArea,
		Featured:     q.Featured,
		Bounds:       bounds,
	}, true
}

func (h *Handler) GetProperty(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	p, err := h.properties.Get(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) CreateProperty(c *gin.Context) {
	var req property.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	p, err := h.properties.Create(c.Request.Context(), req, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) UpdateProperty(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req property.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	p, err := h.properties.Update(c.Request.Context(), id, req, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) DeleteProperty(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.properties.Delete(c.Request.Context(), id, callerFrom(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Team

func (h *Handler) ListTeam(c *gin.Context) {
	var page pageQuery
	if err := c.ShouldBindQuery(&page); err != nil {
		h.badRequest(c, err)
		return
	}
	members, err := h.team.List(c.Request.Context(), page.Skip, page.Limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

func (h *Handler) GetTeamMember(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	member, err := h.team.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *Handler) CreateTeamMember(c *gin.Context) {
	var fields team.Fields
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.badRequest(c, err)
		return
	}
	member, err := h.team.Create(c.Request.Context(), fields, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *Handler) UpdateTeamMember(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var fields team.Fields
	if err := c.ShouldBindJSON(&fields); err != nil {
		h.badRequest(c, err)
		return
	}
	member, err := h.team.Update(c.Request.Context(), id, fields, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *Handler) DeleteTeamMember(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	if err := h.team.Delete(c.Request.Context(), id, callerFrom(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Settings

func (h *Handler) GetSettings(c *gin.Context) {
	all, err := h.settings.GetAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var updates map[string]settings.Update
	if err := c.ShouldBindJSON(&updates); err != nil {
		h.badRequest(c, err)
		return
	}
	all, err := h.settings.BulkUpdate(c.Request.Context(), updates, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

// Contact

func (h *Handler) SubmitContact(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	submission, err := h.contacts.Submit(c.Request.Context(), contact.Submission{
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Subject:    req.Subject,
		Message:    req.Message,
		PropertyID: req.PropertyID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submission)
}

func (h *Handler) ListContacts(c *gin.Context) {
	var page pageQuery
	if err := c.ShouldBindQuery(&page); err != nil {
		h.badRequest(c, err)
		return
	}
	list, err := h.contacts.List(c.Request.Context(), page.Skip, page.Limit, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) GetContact(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	submission, err := h.contacts.Get(c.Request.Context(), id, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, submission)
}

func (h *Handler) UpdateContact(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var changes contact.Changes
	if err := c.ShouldBindJSON(&changes); err != nil {
		h.badRequest(c, err)
		return
	}
	submission, err := h.contacts.Update(c.Request.Context(), id, changes, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, submission)
}

// ForwardContact emails a submission. The body is optional.
func (h *Handler) ForwardContact(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req forwardRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, err)
		return
	}

	recipient, err := h.contacts.Forward(c.Request.Context(), id, req.RecipientEmail, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Email sent",
		"recipient": recipient,
	})
}

// Uploads

func (h *Handler) Upload(c *gin.Context) {
	// Reject anonymous callers before the multipart body is parsed.
	if _, err := auth.RequireRole(callerFrom(c), auth.StaffOrAbove...); err != nil {
		h.respondError(c, err)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		h.respondError(c, apperror.InvalidInput("a file field is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		h.respondError(c, apperror.Internal(err, "could not read upload"))
		return
	}

	result, err := h.uploads.Store(c.Request.Context(), c.Param("category"), header.Filename, file, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
