// Package seed bootstraps a demo user for local and self-hosted installs.
package seed

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/baroworks/taxbill/internal/account/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	defaultLoginID = "demo"
	defaultBizName = "Demo Trading Co."
	defaultEmail   = "demo@taxbill.local"
	defaultAPIKey  = "dev-api-key"
)

// EnsureDevUser seeds a demo account so the API is callable out of the box.
// Production deployments never run this.
func EnsureDevUser(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user accountdomain.User
		err := tx.WithContext(ctx).
			Where("login_id = ?", defaultLoginID).
			First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		user = accountdomain.User{
			ID:        node.Generate(),
			LoginID:   defaultLoginID,
			Email:     defaultEmail,
			BizName:   defaultBizName,
			APIKey:    defaultAPIKey,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&user).Error
	})
}
