package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/smallbiznis/referrals/internal/attribution/domain"
	"github.com/smallbiznis/referrals/internal/conversion/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) MarkConverted(ctx context.Context, db *gorm.DB, attributionID snowflake.ID, f domain.ConvertFields) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE attributions SET
			status = ?, payment_id = ?, conversion_value = ?, currency = ?,
			commission_earned = ?, converted_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(attributiondomain.StatusConverted),
		f.PaymentID,
		f.ConversionValue,
		f.Currency,
		f.CommissionEarned,
		f.At,
		f.At,
		attributionID,
		string(attributiondomain.StatusSignup),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) MarkSubscribed(ctx context.Context, db *gorm.DB, identityID string, f domain.SubscribeFields) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE attributions SET
			status = ?, subscription_id = ?, plan_id = ?,
			subscribed_at = COALESCE(subscribed_at, ?), updated_at = ?
		 WHERE identity_id = ? AND status IN ?`,
		string(attributiondomain.StatusSubscribed),
		f.SubscriptionID,
		f.PlanID,
		f.At,
		f.At,
		identityID,
		[]string{string(attributiondomain.StatusConverted), string(attributiondomain.StatusSubscribed)},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
