package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bopmarket/backend/internal/products"
	"github.com/bopmarket/backend/internal/users"
	pkgerrors "github.com/bopmarket/backend/pkg/errors"
	"github.com/bopmarket/backend/pkg/logger"
	"github.com/bopmarket/backend/pkg/types"
)

// Service defines cart operations. The cart is stored on the user row and
// replaced wholesale on every write; there is no per-line mutation.
type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (types.CartMap, error)
	Replace(ctx context.Context, userID uuid.UUID, items types.CartMap) (types.CartMap, error)
	Clear(ctx context.Context, userID uuid.UUID) error
}

type service struct {
	users    users.Repository
	products products.Repository
	logg     *logger.Logger
}

// NewService wires cart dependencies.
func NewService(usersRepo users.Repository, productsRepo products.Repository, logg *logger.Logger) (Service, error) {
	if usersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "users repository required")
	}
	if productsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "products repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{users: usersRepo, products: productsRepo, logg: logg}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (types.CartMap, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Cart == nil {
		return types.CartMap{}, nil
	}
	return user.Cart, nil
}

func (s *service) Replace(ctx context.Context, userID uuid.UUID, items types.CartMap) (types.CartMap, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	normalized, productIDs, err := normalizeItems(items)
	if err != nil {
		return nil, err
	}

	if len(productIDs) > 0 {
		found, err := s.products.FindByIDs(ctx, productIDs)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart products")
		}
		for _, id := range productIDs {
			product, ok := found[id]
			if !ok {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown product %s", id))
			}
			if !product.IsActive {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %s is unavailable", id))
			}
		}
	}

	if err := s.users.ReplaceCart(ctx, userID, normalized); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithUserID(ctx, userID.String())
	s.logg.Info(logCtx, "cart replaced")
	return normalized, nil
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	return s.users.ClearCart(ctx, userID)
}

func normalizeItems(items types.CartMap) (types.CartMap, []uuid.UUID, error) {
	normalized := make(types.CartMap, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for raw, quantity := range items {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid product id %q", raw))
		}
		if quantity <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity for product %s must be positive", id))
		}
		normalized[id.String()] = quantity
		ids = append(ids, id)
	}
	return normalized, ids, nil
}
