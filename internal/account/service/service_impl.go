package service

import (
	"context"
	"strings"

	accountdomain "github.com/baroworks/taxbill/internal/account/domain"
	"github.com/baroworks/taxbill/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	userrepo repository.Repository[accountdomain.User]
}

func NewService(p ServiceParam) accountdomain.Directory {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("account.service"),

		userrepo: repository.ProvideStore[accountdomain.User](p.DB),
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*accountdomain.User, error) {
	user, err := s.userrepo.FindOne(ctx, &accountdomain.User{ID: id})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, accountdomain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) GetByAPIKey(ctx context.Context, apiKey string) (*accountdomain.User, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, accountdomain.ErrInvalidAPIKey
	}
	user, err := s.userrepo.FindOne(ctx, &accountdomain.User{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, accountdomain.ErrInvalidAPIKey
	}
	return user, nil
}

func (s *Service) HasPaymentMethod(ctx context.Context, userID snowflake.ID) (bool, error) {
	var exists bool
	err := s.db.WithContext(ctx).Raw(
		`SELECT EXISTS(SELECT 1 FROM payment_methods WHERE user_id = ?)`,
		userID,
	).Scan(&exists).Error
	if err != nil {
		return false, err
	}
	return exists, nil
}
