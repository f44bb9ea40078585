package services

import (
	"context"
	"errors"
	"strings"

	"vodcms-collect-api/config"
	"vodcms-collect-api/models"
	"vodcms-collect-api/utils"

	"gorm.io/gorm"
)

var (
	ErrCollectSourceNotFound = errors.New("collect source not found")
	ErrSourceNameTooShort    = errors.New("name too short")
	ErrSourceBaseURLRequired = errors.New("base_url required")
	ErrSourceBaseURLInvalid  = errors.New("base_url must be an http(s) url")
	ErrSourceBaseURLExists   = errors.New("base_url exists")
	ErrSourceInUse           = errors.New("source is bound to a job")
)

// SourceInput is used for both create and partial save; nil fields keep their value.
type SourceInput struct {
	ID          uint
	Name        *string
	BaseURL     *string
	CollectType *int
	Status      *int
}

type CollectSourceService struct {
	db *gorm.DB
}

func NewCollectSourceService(db *gorm.DB) *CollectSourceService {
	if db == nil {
		db = config.DB
	}
	return &CollectSourceService{db: db}
}

func (s *CollectSourceService) List(ctx context.Context) ([]models.CollectSource, error) {
	sources := []models.CollectSource{}
	err := s.db.WithContext(ctx).Order("id DESC").Find(&sources).Error
	return sources, err
}

func (s *CollectSourceService) Get(ctx context.Context, id uint) (*models.CollectSource, error) {
	var src models.CollectSource
	if err := s.db.WithContext(ctx).First(&src, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCollectSourceNotFound
		}
		return nil, err
	}
	return &src, nil
}

func (s *CollectSourceService) Create(ctx context.Context, in SourceInput) (*models.CollectSource, error) {
	src := &models.CollectSource{
		CollectType: models.CollectTypeVod,
		Status:      models.CollectSourceEnabled,
	}
	if in.Name != nil {
		src.Name = utils.SanitizeInput(*in.Name)
	}
	if in.BaseURL != nil {
		src.BaseURL = utils.NormalizeBaseURL(*in.BaseURL)
	}
	if in.CollectType != nil && *in.CollectType > 0 {
		src.CollectType = *in.CollectType
	}
	if in.Status != nil {
		src.Status = enabledFlag(*in.Status)
	}

	if err := validateSource(src); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueBaseURL(ctx, src.BaseURL, 0); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(src).Error; err != nil {
		return nil, err
	}
	return src, nil
}

func (s *CollectSourceService) Save(ctx context.Context, in SourceInput) (*models.CollectSource, error) {
	src, err := s.Get(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		src.Name = utils.SanitizeInput(*in.Name)
	}
	if in.BaseURL != nil {
		src.BaseURL = utils.NormalizeBaseURL(*in.BaseURL)
	}
	if in.CollectType != nil && *in.CollectType > 0 {
		src.CollectType = *in.CollectType
	}
	if in.Status != nil {
		src.Status = enabledFlag(*in.Status)
	}

	if err := validateSource(src); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueBaseURL(ctx, src.BaseURL, src.ID); err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(src).Select("name", "base_url", "collect_type", "status").Updates(src).Error
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Delete refuses to remove a source that a job still references.
func (s *CollectSourceService) Delete(ctx context.Context, id uint) error {
	var bound int64
	if err := s.db.WithContext(ctx).Model(&models.CollectJobSource{}).Where("source_id = ?", id).Count(&bound).Error; err != nil {
		return err
	}
	if bound > 0 {
		return ErrSourceInUse
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&models.CollectTypeBind{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.CollectSource{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCollectSourceNotFound
		}
		return nil
	})
}

func (s *CollectSourceService) ensureUniqueBaseURL(ctx context.Context, baseURL string, selfID uint) error {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.CollectSource{}).Where("base_url = ?", baseURL)
	if selfID > 0 {
		q = q.Where("id <> ?", selfID)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrSourceBaseURLExists
	}
	return nil
}

func validateSource(src *models.CollectSource) error {
	if len([]rune(strings.TrimSpace(src.Name))) < 2 {
		return ErrSourceNameTooShort
	}
	if src.BaseURL == "" {
		return ErrSourceBaseURLRequired
	}
	if !utils.ValidateHTTPURL(src.BaseURL) {
		return ErrSourceBaseURLInvalid
	}
	return nil
}

func enabledFlag(v int) int {
	if v != 0 {
		return 1
	}
	return 0
}
