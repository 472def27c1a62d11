package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"household-planet/internal/apperror"
	"household-planet/internal/database"
	"household-planet/internal/logger"
	"household-planet/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeliveryPricingService отвечает за тарифы доставки по зонам.
// Таблица загружается один раз, дальнейшие запросы только читают её из памяти.
type DeliveryPricingService struct {
	mu     sync.RWMutex
	byName map[string]models.DeliveryLocation
	sorted []models.DeliveryLocation
}

// NewDeliveryPricingService строит таблицу из готового списка зон.
func NewDeliveryPricingService(locations []models.DeliveryLocation) *DeliveryPricingService {
	s := &DeliveryPricingService{}
	s.replace(locations)
	return s
}

// LoadDeliveryPricing читает зоны из базы. Пустая таблица заполняется значениями по умолчанию.
func LoadDeliveryPricing(ctx context.Context, db *database.DB, log *logger.Logger) (*DeliveryPricingService, error) {
	locations, err := fetchDeliveryLocations(ctx, db)
	if err != nil {
		return nil, err
	}

	if len(locations) == 0 {
		log.Info("Delivery locations table is empty, seeding defaults")
		if err := SeedDeliveryLocations(ctx, db); err != nil {
			return nil, err
		}
		if locations, err = fetchDeliveryLocations(ctx, db); err != nil {
			return nil, err
		}
	}

	log.WithField("locations", len(locations)).Info("Delivery pricing table loaded")
	return NewDeliveryPricingService(locations), nil
}

// SeedDeliveryLocations вставляет зоны по умолчанию. Повторный вызов ничего не меняет.
func SeedDeliveryLocations(ctx context.Context, db *database.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO delivery_locations (id, name, tier, price, estimated_days, express_available, express_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`
	for _, loc := range DefaultDeliveryLocations() {
		if _, err := tx.ExecContext(ctx, query, loc.ID, loc.Name, loc.Tier, loc.Price,
			loc.EstimatedDays, loc.ExpressAvailable, loc.ExpressPrice); err != nil {
			return fmt.Errorf("failed to seed delivery location %s: %w", loc.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delivery seed: %w", err)
	}
	return nil
}

func fetchDeliveryLocations(ctx context.Context, db *database.DB) ([]models.DeliveryLocation, error) {
	query := `
		SELECT id, name, tier, price, estimated_days, express_available, express_price, created_at
		FROM delivery_locations
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery locations: %w", err)
	}
	defer rows.Close()

	var locations []models.DeliveryLocation
	for rows.Next() {
		var (
			loc          models.DeliveryLocation
			expressPrice decimal.NullDecimal
		)
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Tier, &loc.Price, &loc.EstimatedDays,
			&loc.ExpressAvailable, &expressPrice, &loc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery location: %w", err)
		}
		if expressPrice.Valid {
			p := expressPrice.Decimal
			loc.ExpressPrice = &p
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate delivery locations: %w", err)
	}
	return locations, nil
}

// PriceFor возвращает тариф доставки в зону. Поиск без учёта регистра и лишних пробелов.
func (s *DeliveryPricingService) PriceFor(name string, express bool) (*models.DeliveryQuote, error) {
	key := normalizeLocationName(name)
	if key == "" {
		return nil, apperror.Validation("location is required", nil)
	}

	s.mu.RLock()
	loc, ok := s.byName[key]
	s.mu.RUnlock()
	if !ok {
		return nil, apperror.NotFoundReason(apperror.ReasonLocationNotFound,
			fmt.Sprintf("delivery location %q not found", strings.TrimSpace(name)))
	}

	quote := &models.DeliveryQuote{
		Location:      loc.Name,
		Price:         loc.Price,
		EstimatedDays: loc.EstimatedDays,
		Tier:          loc.Tier,
	}

	if express {
		if !loc.ExpressAvailable || loc.ExpressPrice == nil {
			return nil, apperror.BusinessRule(apperror.ReasonExpressNotAvailable,
				fmt.Sprintf("express delivery is not available for %s", loc.Name))
		}
		quote.Price = *loc.ExpressPrice
		quote.EstimatedDays = "Same day"
		quote.Express = true
	}

	quote.Price = models.RoundMoney(quote.Price)
	return quote, nil
}

// List возвращает все зоны, отсортированные по тарифной зоне и названию.
func (s *DeliveryPricingService) List() []models.DeliveryLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DeliveryLocation, len(s.sorted))
	copy(out, s.sorted)
	return out
}

func (s *DeliveryPricingService) replace(locations []models.DeliveryLocation) {
	byName := make(map[string]models.DeliveryLocation, len(locations))
	sorted := make([]models.DeliveryLocation, 0, len(locations))
	for _, loc := range locations {
		key := normalizeLocationName(loc.Name)
		if key == "" {
			continue
		}
		if _, dup := byName[key]; dup {
			continue
		}
		byName[key] = loc
		sorted = append(sorted, loc)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Tier != sorted[j].Tier {
			return sorted[i].Tier < sorted[j].Tier
		}
		return sorted[i].Name < sorted[j].Name
	})

	s.mu.Lock()
	s.byName = byName
	s.sorted = sorted
	s.mu.Unlock()
}

func normalizeLocationName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

type defaultLocation struct {
	name    string
	tier    int
	price   int64
	days    string
	express int64 // 0 = нет экспресса
}

var defaultLocations = []defaultLocation{
	// Tier 1: центр Найроби
	{"Nairobi CBD", 1, 100, "Same day", 250},
	{"Westlands", 1, 150, "Same day", 300},
	{"Kilimani", 1, 150, "Same day", 300},
	{"Upper Hill", 1, 150, "Same day", 300},
	{"Parklands", 1, 150, "Same day", 300},
	{"South B", 1, 150, "Same day", 300},
	{"South C", 1, 150, "Same day", 300},
	{"Ngara", 1, 120, "Same day", 250},
	// Tier 2: пригороды
	{"Karen", 2, 250, "1-2 days", 450},
	{"Langata", 2, 250, "1-2 days", 450},
	{"Kasarani", 2, 250, "1-2 days", 450},
	{"Embakasi", 2, 250, "1-2 days", 450},
	{"Ruaka", 2, 250, "1-2 days", 450},
	{"Rongai", 2, 300, "1-2 days", 500},
	{"Kitengela", 2, 300, "1-2 days", 0},
	{"Kikuyu", 2, 300, "1-2 days", 0},
	// Tier 3: ближние города
	{"Thika", 3, 350, "2-3 days", 0},
	{"Machakos", 3, 400, "2-3 days", 0},
	{"Naivasha", 3, 450, "2-3 days", 0},
	{"Nakuru", 3, 450, "2-3 days", 0},
	{"Nyeri", 3, 450, "2-3 days", 0},
	// Tier 4: дальние регионы
	{"Mombasa", 4, 600, "3-5 days", 0},
	{"Kisumu", 4, 600, "3-5 days", 0},
	{"Eldoret", 4, 600, "3-5 days", 0},
	{"Kakamega", 4, 700, "3-5 days", 0},
	{"Garissa", 4, 800, "4-6 days", 0},
	{"Lodwar", 4, 900, "5-7 days", 0},
}

// DefaultDeliveryLocations возвращает стартовую таблицу зон доставки.
// ID детерминированы, чтобы повторный сид не плодил записи.
func DefaultDeliveryLocations() []models.DeliveryLocation {
	out := make([]models.DeliveryLocation, 0, len(defaultLocations))
	for _, d := range defaultLocations {
		loc := models.DeliveryLocation{
			ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte("delivery-location:"+normalizeLocationName(d.name))),
			Name:          d.name,
			Tier:          d.tier,
			Price:         decimal.NewFromInt(d.price),
			EstimatedDays: d.days,
		}
		if d.express > 0 {
			p := decimal.NewFromInt(d.express)
			loc.ExpressAvailable = true
			loc.ExpressPrice = &p
		}
		out = append(out, loc)
	}
	return out
}
