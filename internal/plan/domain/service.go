package domain

import (
	"context"
	"errors"
)

type Service interface {
	UpsertCatalog(ctx context.Context, catalog Catalog) error
	GetPlan(ctx context.Context, code string) (*Plan, error)
	ListVisible(ctx context.Context) ([]Plan, error)
}

var (
	ErrPlanNotFound = errors.New("plan_not_found")
	ErrInvalidCode  = errors.New("invalid_plan_code")
	ErrEmptyCatalog = errors.New("empty_catalog")
)
