package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PlanDefinition is one catalog entry as declared in plans.yml.
type PlanDefinition struct {
	Code          string   `mapstructure:"code" validate:"required,max=64"`
	Name          string   `mapstructure:"name" validate:"required"`
	Description   string   `mapstructure:"description"`
	Price         int64    `mapstructure:"price" validate:"min=0"`
	Currency      string   `mapstructure:"currency" validate:"required,len=3"`
	DurationDays  *int     `mapstructure:"duration_days" validate:"omitempty,min=1"`
	CategoryLimit *int     `mapstructure:"category_limit" validate:"omitempty,min=0"`
	ItemLimit     *int     `mapstructure:"item_limit" validate:"omitempty,min=0"`
	IsFullAccess  bool     `mapstructure:"is_full_access"`
	IsTrial       bool     `mapstructure:"is_trial"`
	IsHidden      bool     `mapstructure:"is_hidden"`
	Features      []string `mapstructure:"features"`
}

const (
	PlanCodeBase    = "base"
	PlanCodeTrial   = "trial"
	PlanCodePremium = "premium"
	PlanCodeTesting = "testing"
)

// DefaultPlanCatalog is used when no plans.yml can be found.
func DefaultPlanCatalog() []PlanDefinition {
	return []PlanDefinition{
		{
			Code:          PlanCodeBase,
			Name:          "Базовый",
			Description:   "Бесплатный тариф для знакомства с сервисом",
			Price:         0,
			Currency:      "RUB",
			CategoryLimit: intPtr(3),
			ItemLimit:     intPtr(5),
			Features:      []string{"Онлайн-меню по QR-коду", "Поддомен заведения"},
		},
		{
			Code:         PlanCodeTrial,
			Name:         "Пробный",
			Description:  "Полный доступ на 14 дней",
			Price:        0,
			Currency:     "RUB",
			DurationDays: intPtr(14),
			IsFullAccess: true,
			IsTrial:      true,
			Features:     []string{"Без ограничений на категории и блюда", "Импорт меню из CSV"},
		},
		{
			Code:         PlanCodePremium,
			Name:         "Премиум",
			Description:  "Полный доступ на 30 дней",
			Price:        99000,
			Currency:     "RUB",
			DurationDays: intPtr(30),
			IsFullAccess: true,
			Features:     []string{"Без ограничений на категории и блюда", "Импорт меню из CSV", "Приоритетная поддержка"},
		},
		{
			Code:         PlanCodeTesting,
			Name:         "Тестовый",
			Description:  "Служебный тариф для проверки оплаты",
			Price:        100,
			Currency:     "RUB",
			DurationDays: intPtr(1),
			IsFullAccess: true,
			IsHidden:     true,
		},
	}
}

func intPtr(v int) *int { return &v }

type PlanCatalogHolder struct {
	current atomic.Value // holds []PlanDefinition

	mu        sync.Mutex
	listeners []func([]PlanDefinition)
}

func NewPlanCatalogHolder(cfg Config) (*PlanCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	if cfg.PlansConfigPath != "" {
		v.SetConfigFile(cfg.PlansConfigPath)
	}
	v.AddConfigPath("/etc/tablemenu")
	v.AddConfigPath(".")

	holder := &PlanCatalogHolder{}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.current.Store(DefaultPlanCatalog())
		return holder, nil
	}

	plans, err := decodePlans(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(plans)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePlans(v)
		if err != nil {
			zap.L().Warn("plan catalog reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		zap.L().Info("plan catalog reloaded", zap.String("file", e.Name), zap.Int("plans", len(updated)))
		holder.notify(updated)
	})

	return holder, nil
}

// NewStaticPlanCatalogHolder wraps a fixed catalog, mainly for tests.
func NewStaticPlanCatalogHolder(plans []PlanDefinition) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(plans)
	return holder
}

func (h *PlanCatalogHolder) Get() []PlanDefinition {
	plans, _ := h.current.Load().([]PlanDefinition)
	out := make([]PlanDefinition, len(plans))
	copy(out, plans)
	return out
}

// OnChange registers fn to be called with every successfully reloaded catalog.
func (h *PlanCatalogHolder) OnChange(fn func([]PlanDefinition)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func (h *PlanCatalogHolder) notify(plans []PlanDefinition) {
	h.mu.Lock()
	listeners := make([]func([]PlanDefinition), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(plans)
	}
}

func decodePlans(v *viper.Viper) ([]PlanDefinition, error) {
	var plans []PlanDefinition
	if err := v.UnmarshalKey("plans", &plans); err != nil {
		return nil, err
	}
	if err := ValidatePlanCatalog(plans); err != nil {
		return nil, err
	}
	return plans, nil
}

var planValidator = validator.New()

// ValidatePlanCatalog normalises plan codes in place and rejects invalid or duplicate entries.
func ValidatePlanCatalog(plans []PlanDefinition) error {
	if len(plans) == 0 {
		return errors.New("plans cannot be empty")
	}

	seen := make(map[string]struct{}, len(plans))
	for i := range plans {
		plans[i].Code = slug.Make(strings.TrimSpace(plans[i].Code))
		plans[i].Currency = strings.ToUpper(strings.TrimSpace(plans[i].Currency))
		if err := planValidator.Struct(plans[i]); err != nil {
			return fmt.Errorf("plans[%d]: %w", i, err)
		}
		if _, ok := seen[plans[i].Code]; ok {
			return fmt.Errorf("plans[%d]: duplicate code %q", i, plans[i].Code)
		}
		seen[plans[i].Code] = struct{}{}
	}
	if _, ok := seen[PlanCodeBase]; !ok {
		return fmt.Errorf("plans: %q plan is required", PlanCodeBase)
	}
	return nil
}
