package repository

import (
	"context"

	"nftstore/internal/model"
	"nftstore/internal/store"

	"gorm.io/gorm"
)

type UserRepository interface {
	FindByID(ctx context.Context, id uint64) (*model.User, error)
	FindByAddress(ctx context.Context, address string) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
	MarkWhitelistClaimed(ctx context.Context, userID uint64) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	if err := store.Conn(ctx, r.db).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) FindByAddress(ctx context.Context, address string) (*model.User, error) {
	var u model.User
	if err := store.Conn(ctx, r.db).Where("address = ?", address).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	return store.Conn(ctx, r.db).Create(u).Error
}

// MarkWhitelistClaimed counts one more purchase against the user's
// whitelist entry. It returns 0 when the user's wallet is not whitelisted.
func (r *userRepository) MarkWhitelistClaimed(ctx context.Context, userID uint64) (int64, error) {
	conn := store.Conn(ctx, r.db)
	res := conn.Model(&model.WhitelistedAddress{}).
		Where("address = (?)", conn.Model(&model.User{}).Select("address").Where("id = ?", userID)).
		Update("claimed", gorm.Expr("claimed + ?", 1))
	return res.RowsAffected, res.Error
}
