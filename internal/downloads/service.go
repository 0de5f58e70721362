package downloads

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/projecthub-backend/pkg/auth"
	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/projecthub-backend/pkg/errors"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	"github.com/angelmondragon/projecthub-backend/pkg/metrics"
	"github.com/angelmondragon/projecthub-backend/pkg/storage/gcs"
)

const (
	DefaultFileName     = "project-files.zip"
	DefaultTTLHours     = 24
	DefaultMaxTTLHours  = 168
	DefaultMaxDownloads = 1

	tokenBytes    = 32
	redeemPathFmt = "%s/api/download/%s"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type purchaseReader interface {
	Get(ctx context.Context, purchaseID uuid.UUID) (*models.Purchase, error)
}

type objectStore interface {
	ObjectKey(parts ...string) string
	Open(ctx context.Context, key string) (*gcs.Object, error)
}

// Service issues and redeems single-use download tokens.
type Service interface {
	Issue(ctx context.Context, principal auth.Principal, input IssueInput) (*IssuedToken, error)
	Redeem(ctx context.Context, input RedeemInput) (*Download, error)
}

type IssueInput struct {
	PurchaseID uuid.UUID
	FileName   string
	TTLHours   int
}

type IssuedToken struct {
	Token              string    `json:"token"`
	DownloadURL        string    `json:"download_url"`
	ExpiresAt          time.Time `json:"expires_at"`
	DownloadsRemaining int       `json:"downloads_remaining"`
}

type RedeemInput struct {
	Token     string
	IP        string
	UserAgent string
}

// Download is a committed redemption. Body must be closed by the caller.
type Download struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

type ServiceParams struct {
	DB           txRunner
	Repo         Repository
	Purchases    purchaseReader
	Store        objectStore
	Metrics      *metrics.PaymentMetrics
	Logger       *logger.Logger
	BaseURL      string
	TTLHours     int
	MaxTTLHours  int
	MaxDownloads int
	Now          func() time.Time
}

type service struct {
	db           txRunner
	repo         Repository
	purchases    purchaseReader
	store        objectStore
	metrics      *metrics.PaymentMetrics
	logg         *logger.Logger
	baseURL      string
	ttlHours     int
	maxTTLHours  int
	maxDownloads int
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "download repository required")
	}
	if params.Purchases == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchase reader required")
	}
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "object store required")
	}
	svc := &service{
		db:           params.DB,
		repo:         params.Repo,
		purchases:    params.Purchases,
		store:        params.Store,
		metrics:      params.Metrics,
		logg:         params.Logger,
		baseURL:      strings.TrimRight(strings.TrimSpace(params.BaseURL), "/"),
		ttlHours:     params.TTLHours,
		maxTTLHours:  params.MaxTTLHours,
		maxDownloads: params.MaxDownloads,
		now:          params.Now,
	}
	if svc.maxTTLHours <= 0 {
		svc.maxTTLHours = DefaultMaxTTLHours
	}
	if svc.ttlHours <= 0 {
		svc.ttlHours = DefaultTTLHours
	}
	if svc.maxDownloads <= 0 {
		svc.maxDownloads = DefaultMaxDownloads
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Issue mints a token for a purchase the caller owns. Credits are only spent
// on redemption.
func (s *service) Issue(ctx context.Context, principal auth.Principal, input IssueInput) (*IssuedToken, error) {
	if principal.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	fileName, err := SanitizeFileName(input.FileName)
	if err != nil {
		return nil, err
	}

	purchase, err := s.purchases.Get(ctx, input.PurchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.UserID != principal.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "purchase belongs to another user")
	}
	if purchase.RevokedAt != nil || purchase.DownloadsRemaining <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeExhausted, "no downloads remaining")
	}

	value, err := generateToken()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate download token")
	}
	now := s.now().UTC()
	token := &models.DownloadToken{
		Token:        value,
		PurchaseID:   purchase.ID,
		FileName:     fileName,
		ExpiresAt:    now.Add(time.Duration(s.clampTTL(input.TTLHours)) * time.Hour),
		MaxDownloads: s.maxDownloads,
		CreatedAt:    now,
	}
	if err := s.repo.CreateToken(ctx, token); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store download token")
	}

	if s.logg != nil {
		logCtx := s.logg.WithField(s.logg.WithPurchaseID(ctx, purchase.ID.String()), "file_name", fileName)
		s.logg.Info(logCtx, "download token issued")
	}
	return &IssuedToken{
		Token:              value,
		DownloadURL:        fmt.Sprintf(redeemPathFmt, s.baseURL, value),
		ExpiresAt:          token.ExpiresAt,
		DownloadsRemaining: purchase.DownloadsRemaining,
	}, nil
}

// Redeem opens the file first and only then spends the token and one
// purchase credit in a single transaction. A storage failure costs nothing.
func (s *service) Redeem(ctx context.Context, input RedeemInput) (*Download, error) {
	download, result, err := s.redeem(ctx, input)
	s.metrics.ObserveDownload(result)
	return download, err
}

func (s *service) redeem(ctx context.Context, input RedeemInput) (*Download, string, error) {
	value := strings.TrimSpace(input.Token)
	if value == "" {
		return nil, metrics.DownloadNotFound, pkgerrors.New(pkgerrors.CodeNotFound, "download link not found")
	}

	token, err := s.repo.FindToken(ctx, value)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, metrics.DownloadNotFound, pkgerrors.New(pkgerrors.CodeNotFound, "download link not found")
		}
		return nil, metrics.DownloadError, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load download token")
	}
	now := s.now().UTC()
	if token.Expired(now) {
		return nil, metrics.DownloadExpired, pkgerrors.New(pkgerrors.CodeExpired, "download link expired")
	}
	if token.Spent() {
		return nil, metrics.DownloadLimitReached, pkgerrors.New(pkgerrors.CodeLimitReached, "download limit reached")
	}

	purchase, err := s.purchases.Get(ctx, token.PurchaseID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, metrics.DownloadNotFound, pkgerrors.New(pkgerrors.CodeNotFound, "download link not found")
		}
		return nil, metrics.DownloadError, err
	}
	if purchase.RevokedAt != nil || purchase.DownloadsRemaining <= 0 {
		return nil, metrics.DownloadExhausted, pkgerrors.New(pkgerrors.CodeExhausted, "no downloads remaining")
	}

	ctx = s.withPurchase(ctx, purchase.ID)
	obj, err := s.store.Open(ctx, s.store.ObjectKey(purchase.ProjectID.String(), token.FileName))
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotFound) {
			s.logError(ctx, "deliverable missing from object store", err)
			return nil, metrics.DownloadNotFound, pkgerrors.New(pkgerrors.CodeNotFound, "file not available")
		}
		s.logError(ctx, "open deliverable failed", err)
		return nil, metrics.DownloadStorageError, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open deliverable")
	}

	result := metrics.DownloadServed
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		claimed, err := repo.ClaimToken(ctx, token.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim download token")
		}
		if !claimed {
			latest, err := repo.FindToken(ctx, value)
			if err == nil && latest.Expired(now) {
				result = metrics.DownloadExpired
				return pkgerrors.New(pkgerrors.CodeExpired, "download link expired")
			}
			result = metrics.DownloadLimitReached
			return pkgerrors.New(pkgerrors.CodeLimitReached, "download limit reached")
		}

		decremented, err := repo.DecrementPurchase(ctx, purchase.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement purchase downloads")
		}
		if !decremented {
			result = metrics.DownloadExhausted
			return pkgerrors.New(pkgerrors.CodeExhausted, "no downloads remaining")
		}

		return repo.InsertActivity(ctx, &models.DownloadActivity{
			TokenID:      token.ID,
			PurchaseID:   purchase.ID,
			UserID:       purchase.UserID,
			ProjectID:    purchase.ProjectID,
			FileName:     token.FileName,
			IPAddress:    optionalString(input.IP),
			UserAgent:    optionalString(input.UserAgent),
			DownloadedAt: now,
		})
	})
	if err != nil {
		_ = obj.Body.Close()
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record download")
		}
		if result == metrics.DownloadServed {
			result = metrics.DownloadError
			s.logError(ctx, "redeem transaction failed", err)
		}
		return nil, result, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"file_name": token.FileName,
			"ip":        input.IP,
		})
		s.logg.Info(logCtx, "download redeemed")
	}
	return &Download{
		FileName:    token.FileName,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		Body:        obj.Body,
	}, result, nil
}

func (s *service) clampTTL(hours int) int {
	if hours == 0 {
		hours = s.ttlHours
	}
	if hours < 1 {
		return 1
	}
	if hours > s.maxTTLHours {
		return s.maxTTLHours
	}
	return hours
}

// SanitizeFileName applies the default name and rejects anything that could
// escape the project's folder in the object store.
func SanitizeFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultFileName, nil
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "file_name must not contain path separators")
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == '"' {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "file_name contains invalid characters")
		}
	}
	return name, nil
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func (s *service) withPurchase(ctx context.Context, purchaseID uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithPurchaseID(ctx, purchaseID.String())
}

func (s *service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}
