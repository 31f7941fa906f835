// Package upload stores user-supplied files under the public static tree.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"habitat/server/internal/apperror"
	"habitat/server/internal/auth"
)

// Categories are the allowed upload folders.
var Categories = []string{"properties", "team", "general"}

// PublicPrefix is the URL path under which the upload directory is served.
const PublicPrefix = "/static/uploads"

type Result struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type Gateway struct {
	dir     string
	baseURL string
	maxSize int64
	logger  *logrus.Logger
	newID   func() string
}

// NewGateway stores files below dir and builds URLs from baseURL. A maxSize of
// zero disables the size check.
func NewGateway(dir, baseURL string, maxSize int64, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Gateway{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
		logger:  logger,
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

func (g *Gateway) Dir() string {
	return g.dir
}

// Store writes body to <dir>/<category>/<sanitized>_<id><ext>. body is always
// closed.
func (g *Gateway) Store(ctx context.Context, category, filename string, body io.ReadCloser, caller auth.Caller) (*Result, error) {
	defer body.Close()

	user, err := auth.RequireRole(caller, auth.StaffOrAbove...)
	if err != nil {
		return nil, err
	}
	if !validCategory(category) {
		return nil, apperror.InvalidInput("invalid upload type %q, valid types are %s", category, strings.Join(Categories, ", "))
	}

	base := baseName(filename)
	if base == "" {
		return nil, apperror.InvalidInput("filename cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, apperror.Internal(err, "upload cancelled")
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := fmt.Sprintf("%s_%s%s", sanitize(stem), g.newID(), sanitize(ext))

	targetDir := filepath.Join(g.dir, category)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		g.logger.WithError(err).WithField("dir", targetDir).Error("Failed to create upload directory")
		return nil, apperror.Internal(err, "could not upload file")
	}

	path := filepath.Join(targetDir, name)
	written, err := g.write(path, body)
	if err != nil {
		os.Remove(path)
		var appErr *apperror.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		g.logger.WithError(err).WithField("path", path).Error("Failed to write upload")
		return nil, apperror.Internal(err, "could not upload file")
	}

	g.logger.WithFields(logrus.Fields{
		"category": category,
		"filename": name,
		"bytes":    written,
		"user":     user.Username,
	}).Info("Stored upload")

	return &Result{
		Filename: name,
		URL:      fmt.Sprintf("%s%s/%s/%s", g.baseURL, PublicPrefix, category, name),
	}, nil
}

func (g *Gateway) write(path string, body io.Reader) (int64, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, err
	}

	reader := body
	if g.maxSize > 0 {
		reader = io.LimitReader(body, g.maxSize+1)
	}

	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, err
	}
	if g.maxSize > 0 && written > g.maxSize {
		return written, apperror.InvalidInput("file exceeds the %d byte limit", g.maxSize)
	}
	return written, nil
}

func validCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// baseName strips any client-side directory, including Windows-style paths.
func baseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	filename = strings.TrimSpace(filename)
	if filename == "." || filename == ".." {
		return ""
	}
	return filename
}

// sanitize keeps ASCII letters, digits, underscores and dots and replaces
// everything else with an underscore.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
