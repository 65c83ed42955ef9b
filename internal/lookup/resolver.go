// Package lookup resolves status and type codes to the ids of their lookup
// tables. Each category is backed by a closed enum in internal/models; Validate
// checks at startup that the seeded rows match those enums exactly.
package lookup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/models"
	"github.com/oriyet/backend/pkg/apperr"
)

// Category is a lookup table name.
type Category string

const (
	EventStatuses             Category = "event_statuses"
	RegistrationWindows       Category = "registration_statuses"
	EventRegistrationStatuses Category = "event_registration_statuses"
	PaymentStatuses           Category = "payment_statuses"
	PaymentGateways           Category = "payment_gateways"
	EventModes                Category = "event_modes"
	UserRoles                 Category = "user_roles"
)

// Categories maps every category to the codes its enum defines.
var Categories = map[Category]func() []string{
	EventStatuses:             models.EventStatuses,
	RegistrationWindows:       models.RegistrationWindows,
	EventRegistrationStatuses: models.RegistrationStatuses,
	PaymentStatuses:           models.PaymentStatuses,
	PaymentGateways:           models.PaymentGateways,
	EventModes:                models.EventModes,
	UserRoles:                 models.Roles,
}

// Source loads the code to id mapping of one lookup table.
type Source interface {
	LoadCodes(ctx context.Context, category Category) (map[string]int16, error)
}

// Resolver caches lookup tables for the process lifetime.
type Resolver struct {
	src    Source
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[Category]map[string]int16
}

// NewResolver creates a resolver over src.
func NewResolver(src Source, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{src: src, logger: logger, cache: make(map[Category]map[string]int16)}
}

// Resolve returns the id of code within category. An unknown code is a
// seeding defect and yields a configuration error.
func (r *Resolver) Resolve(ctx context.Context, category Category, code string) (int16, error) {
	codes, err := r.table(ctx, category)
	if err != nil {
		return 0, err
	}
	id, ok := codes[code]
	if !ok {
		r.logger.Error("unknown lookup code", zap.String("category", string(category)), zap.String("code", code))
		return 0, apperr.Configuration(fmt.Sprintf("unknown %s code %q", category, code), nil)
	}
	return id, nil
}

// ResolveAll resolves several codes of one category at once.
func (r *Resolver) ResolveAll(ctx context.Context, category Category, codes ...string) ([]int16, error) {
	ids := make([]int16, 0, len(codes))
	for _, c := range codes {
		id, err := r.Resolve(ctx, category, c)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Resolver) table(ctx context.Context, category Category) (map[string]int16, error) {
	r.mu.RLock()
	codes, ok := r.cache[category]
	r.mu.RUnlock()
	if ok {
		return codes, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if codes, ok := r.cache[category]; ok {
		return codes, nil
	}
	if _, known := Categories[category]; !known {
		return nil, apperr.Configuration(fmt.Sprintf("unknown lookup category %q", category), nil)
	}
	loaded, err := r.src.LoadCodes(ctx, category)
	if err != nil {
		return nil, apperr.Configuration(fmt.Sprintf("load %s", category), err)
	}
	r.cache[category] = loaded
	return loaded, nil
}

// Validate loads every category and fails unless the persisted codes equal the
// enum codes exactly.
func (r *Resolver) Validate(ctx context.Context) error {
	var problems []string
	names := make([]string, 0, len(Categories))
	for c := range Categories {
		names = append(names, string(c))
	}
	sort.Strings(names)

	for _, name := range names {
		category := Category(name)
		codes, err := r.table(ctx, category)
		if err != nil {
			return err
		}
		want := make(map[string]struct{})
		for _, c := range Categories[category]() {
			want[c] = struct{}{}
			if _, ok := codes[c]; !ok {
				problems = append(problems, fmt.Sprintf("%s: missing %q", category, c))
			}
		}
		for c := range codes {
			if _, ok := want[c]; !ok {
				problems = append(problems, fmt.Sprintf("%s: unexpected %q", category, c))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return apperr.Configuration("lookup tables do not match enums: "+strings.Join(problems, "; "), nil)
	}
	r.logger.Info("lookup tables validated", zap.Int("categories", len(names)))
	return nil
}
