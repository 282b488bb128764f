package alliance

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("alliance: not found")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB, node: p.Node}
}

func (s *Service) Get(ctx context.Context, id string) (*Alliance, error) {
	var a Alliance
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("alliance: get %s: %w", id, err)
	}
	return &a, nil
}

func (s *Service) List(ctx context.Context) ([]Alliance, error) {
	var list []Alliance
	if err := s.db.WithContext(ctx).Order("priority asc, id asc").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("alliance: list: %w", err)
	}
	return list, nil
}

// ListAutoRedeem returns alliances opted into automatic redemption in
// ascending priority order.
func (s *Service) ListAutoRedeem(ctx context.Context) ([]Alliance, error) {
	var list []Alliance
	if err := s.db.WithContext(ctx).
		Where("auto_redeem = ?", true).
		Order("priority asc, id asc").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("alliance: list auto-redeem: %w", err)
	}
	return list, nil
}

// GetRoster returns the full member list of one alliance in roster order.
func (s *Service) GetRoster(ctx context.Context, allianceID string) ([]Member, error) {
	var members []Member
	if err := s.db.WithContext(ctx).
		Where("alliance_id = ?", allianceID).
		Order("position asc, id asc").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("alliance: roster %s: %w", allianceID, err)
	}
	return members, nil
}

// RandomMember draws a uniformly random member from any alliance roster.
// Used as a validation identity when no test account is configured.
func (s *Service) RandomMember(ctx context.Context) (*Member, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Member{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("alliance: count members: %w", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	var m Member
	if err := s.db.WithContext(ctx).Offset(rand.Intn(int(count))).First(&m).Error; err != nil {
		return nil, fmt.Errorf("alliance: random member: %w", err)
	}
	return &m, nil
}

func (s *Service) Create(ctx context.Context, name string, autoRedeem bool, priority int) (*Alliance, error) {
	now := time.Now()
	a := &Alliance{
		ID:         s.node.Generate().String(),
		Name:       name,
		AutoRedeem: autoRedeem,
		Priority:   priority,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, fmt.Errorf("alliance: create: %w", err)
	}
	return a, nil
}

// AddMember appends a member at the end of the roster.
func (s *Service) AddMember(ctx context.Context, allianceID, fid, nickname string) (*Member, error) {
	if _, err := s.Get(ctx, allianceID); err != nil {
		return nil, err
	}

	var maxPos int
	row := s.db.WithContext(ctx).Model(&Member{}).
		Where("alliance_id = ?", allianceID).
		Select("COALESCE(MAX(position), 0)")
	if err := row.Scan(&maxPos).Error; err != nil {
		return nil, fmt.Errorf("alliance: next position: %w", err)
	}

	now := time.Now()
	m := &Member{
		ID:         s.node.Generate().String(),
		AllianceID: allianceID,
		FID:        fid,
		Nickname:   nickname,
		Position:   maxPos + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("alliance: add member: %w", err)
	}
	return m, nil
}
