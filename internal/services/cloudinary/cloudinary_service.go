package cloudinary

import (
	"net/url"
	"strconv"
	"time"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/bookswap-api/internal/apperrors"
	"github.com/rajivgeraev/bookswap-api/internal/config"
)

// CloudinaryService предоставляет методы для работы с Cloudinary
type CloudinaryService struct {
	cfg          config.CloudinaryConfig
	uploadFolder string
	uploadPreset string
	now          func() time.Time
}

// NewCloudinaryService создает новый экземпляр CloudinaryService
func NewCloudinaryService(cfg *config.Config) *CloudinaryService {
	return &CloudinaryService{
		cfg:          cfg.CloudinaryConfig,
		uploadFolder: cfg.CloudinaryConfig.UploadFolder,
		uploadPreset: cfg.CloudinaryConfig.UploadPreset,
		now:          time.Now,
	}
}

// UploadParams параметры подписанной загрузки обложки
type UploadParams struct {
	Timestamp    string `json:"timestamp"`
	Signature    string `json:"signature"`
	APIKey       string `json:"apiKey"`
	CloudName    string `json:"cloudName"`
	Folder       string `json:"folder"`
	UploadPreset string `json:"uploadPreset,omitempty"`
	PublicID     string `json:"publicId"`
}

// Sign создаёт подписанные параметры загрузки обложки книги
func (s *CloudinaryService) Sign(publicID string) (*UploadParams, error) {
	if s.cfg.APISecret == "" {
		return nil, apperrors.New(apperrors.KindInternal, "upload_disabled", fiber.StatusServiceUnavailable, "Загрузка изображений не настроена")
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)

	// Параметры для подписи
	params := url.Values{}
	params.Set("timestamp", timestamp)
	params.Set("folder", s.uploadFolder)
	params.Set("public_id", publicID)
	if s.uploadPreset != "" {
		params.Set("upload_preset", s.uploadPreset)
	}

	signature, err := api.SignParameters(params, s.cfg.APISecret)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	return &UploadParams{
		Timestamp:    timestamp,
		Signature:    signature,
		APIKey:       s.cfg.APIKey,
		CloudName:    s.cfg.CloudName,
		Folder:       s.uploadFolder,
		UploadPreset: s.uploadPreset,
		PublicID:     publicID,
	}, nil
}

// GenerateUploadParams возвращает параметры для загрузки обложки
func (s *CloudinaryService) GenerateUploadParams(c fiber.Ctx) error {
	// Генерируем ID обложки, если книга еще не создана
	publicID := c.Query("item_id")
	if publicID == "" {
		publicID = uuid.NewString()
	} else if _, err := uuid.Parse(publicID); err != nil {
		return apperrors.Validation("Неверный формат ID книги")
	}

	params, err := s.Sign(publicID)
	if err != nil {
		return err
	}
	return c.JSON(params)
}
