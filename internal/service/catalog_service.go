package service

import (
	"context"

	"github.com/mansoorceksport/wellness/internal/domain"
)

type CatalogService struct {
	packages domain.PackageRepository
}

func NewCatalogService(packages domain.PackageRepository) *CatalogService {
	return &CatalogService{packages: packages}
}

func (s *CatalogService) ListActive(ctx context.Context) ([]*domain.Package, error) {
	packages, err := s.packages.GetActivePackages(ctx)
	if err != nil {
		return nil, err
	}
	if packages == nil {
		packages = []*domain.Package{}
	}
	return packages, nil
}

func (s *CatalogService) Get(ctx context.Context, id string) (*domain.Package, error) {
	return s.packages.GetByID(ctx, id)
}

// Create adds a catalog entry. New packages are active.
func (s *CatalogService) Create(ctx context.Context, pkg *domain.Package) error {
	if pkg.BaseAmount == 0 {
		pkg.BaseAmount = pkg.Price
	}
	if err := pkg.Validate(); err != nil {
		return err
	}
	pkg.IsActive = true
	return s.packages.Create(ctx, pkg)
}

func (s *CatalogService) Update(ctx context.Context, pkg *domain.Package) error {
	if err := pkg.Validate(); err != nil {
		return err
	}
	return s.packages.Update(ctx, pkg)
}

// Deactivate hides a package from sale. Entitlements already granted are untouched.
func (s *CatalogService) Deactivate(ctx context.Context, id string) error {
	return s.packages.Deactivate(ctx, id)
}
