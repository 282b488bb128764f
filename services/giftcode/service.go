package giftcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"giftops/pkg/gameapi"
	"giftops/pkg/rediskey"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("giftcode: not found")

// validMirrorTTL bounds how long the redis validity flag outlives the last
// transition; the periodic sweep refreshes it.
const validMirrorTTL = 48 * time.Hour

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	rdb  *redis.Client
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Redis *redis.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node, rdb: p.Redis}
}

// Upsert registers a code as pending if it is new. Existing rows are left
// untouched, so an invalid code stays invalid no matter how often it is
// resubmitted.
func (s *Service) Upsert(ctx context.Context, code string) (*GiftCode, bool, error) {
	now := time.Now()
	gc := &GiftCode{
		Code:             code,
		ValidationStatus: StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(gc)
	if res.Error != nil {
		return nil, false, fmt.Errorf("giftcode: upsert %s: %w", code, res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := s.Get(ctx, code)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return gc, true, nil
}

func (s *Service) Get(ctx context.Context, code string) (*GiftCode, error) {
	var gc GiftCode
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&gc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("giftcode: get %s: %w", code, err)
	}
	return &gc, nil
}

func (s *Service) List(ctx context.Context) ([]GiftCode, error) {
	var list []GiftCode
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("giftcode: list: %w", err)
	}
	return list, nil
}

// ListActive returns codes still worth revalidating (pending or
// validated), oldest-updated first, capped for one sweep pass.
func (s *Service) ListActive(ctx context.Context, limit int) ([]GiftCode, error) {
	var list []GiftCode
	q := s.db.WithContext(ctx).
		Where("validation_status IN ?", []ValidationStatus{StatusPending, StatusValidated}).
		Order("updated_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("giftcode: list active: %w", err)
	}
	return list, nil
}

// MarkValidated promotes pending→validated. Promotion of an invalid code
// is refused by the WHERE clause; promoting an already-validated code is a
// no-op. Returns whether a transition happened.
func (s *Service) MarkValidated(ctx context.Context, code string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&GiftCode{}).
		Where("code = ? AND validation_status = ?", code, StatusPending).
		Updates(map[string]any{
			"validation_status": StatusValidated,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("giftcode: mark validated %s: %w", code, res.Error)
	}

	s.mirrorValidity(ctx, code, true)
	return res.RowsAffected > 0, nil
}

// Invalidate demotes a code to invalid and deletes clearFID's cache row so
// the validation identity stays clean for future probes. Idempotent: the
// transition fires at most once per code, reported by the return value.
func (s *Service) Invalidate(ctx context.Context, code, clearFID string) (bool, error) {
	now := time.Now()
	var changed bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&GiftCode{}).
			Where("code = ? AND validation_status <> ?", code, StatusInvalid).
			Updates(map[string]any{
				"validation_status": StatusInvalid,
				"invalidated_at":    now,
				"updated_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0

		if clearFID != "" {
			if err := tx.Where("code = ? AND fid = ?", code, clearFID).Delete(&MemberRedemption{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("giftcode: invalidate %s: %w", code, err)
	}

	s.mirrorValidity(ctx, code, false)
	return changed, nil
}

// CachedStatus looks up the terminal outcome recorded for (fid, code).
func (s *Service) CachedStatus(ctx context.Context, fid, code string) (gameapi.Status, bool, error) {
	var rec MemberRedemption
	err := s.db.WithContext(ctx).Where("fid = ? AND code = ?", fid, code).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("giftcode: cached status %s/%s: %w", fid, code, err)
	}
	return gameapi.Status(rec.Status), true, nil
}

// CachedForCode loads every cached outcome for a code in one query, keyed
// by member fid. Used to partition a roster before a run.
func (s *Service) CachedForCode(ctx context.Context, code string) (map[string]gameapi.Status, error) {
	var recs []MemberRedemption
	if err := s.db.WithContext(ctx).Where("code = ?", code).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("giftcode: cached for code %s: %w", code, err)
	}
	out := make(map[string]gameapi.Status, len(recs))
	for _, r := range recs {
		out[r.FID] = gameapi.Status(r.Status)
	}
	return out, nil
}

// PutCached records a terminal outcome. First write wins: a settled pair
// is never overwritten.
func (s *Service) PutCached(ctx context.Context, fid, code string, status gameapi.Status) error {
	rec := &MemberRedemption{
		ID:        s.node.Generate().String(),
		FID:       fid,
		Code:      code,
		Status:    status.String(),
		CreatedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("giftcode: cache %s/%s: %w", fid, code, err)
	}
	return nil
}

// DeleteExpiredInvalid removes invalid codes past the retention window
// together with their now-orphaned cache rows. Returns the number of codes
// deleted.
func (s *Service) DeleteExpiredInvalid(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	var deleted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []GiftCode
		if err := tx.
			Where("validation_status = ? AND invalidated_at IS NOT NULL AND invalidated_at < ?", StatusInvalid, cutoff).
			Find(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		codes := make([]string, 0, len(expired))
		for _, gc := range expired {
			codes = append(codes, gc.Code)
		}

		if err := tx.Where("code IN ?", codes).Delete(&MemberRedemption{}).Error; err != nil {
			return err
		}
		res := tx.Where("code IN ?", codes).Delete(&GiftCode{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("giftcode: cleanup: %w", err)
	}
	return deleted, nil
}

// mirrorValidity keeps the redis flag in sync with validation_status so
// external layers can answer "is this code live" without hitting the
// database. Best-effort.
func (s *Service) mirrorValidity(ctx context.Context, code string, valid bool) {
	if s.rdb == nil {
		return
	}

	key := rediskey.BuildCodeValidKey(code)
	var err error
	if valid {
		err = s.rdb.Set(ctx, key, "1", validMirrorTTL).Err()
	} else {
		err = s.rdb.Del(ctx, key).Err()
	}
	if err != nil {
		zap.L().Warn("failed to mirror code validity", zap.String("code", code), zap.Error(err))
	}
}
