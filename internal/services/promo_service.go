package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"household-planet/internal/apperror"
	"household-planet/internal/clock"
	"household-planet/internal/database"
	"household-planet/internal/logger"
	"household-planet/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	promoCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)
	hundred          = decimal.NewFromInt(100)
)

const promoColumns = `id, code, description, discount_type, discount_value, min_order_amount, max_discount,
		       usage_limit, per_user_limit, valid_from, valid_until, is_active, product_ids, category_ids,
		       created_at, updated_at`

// rowQueryer покрывает *sql.DB и *sql.Tx.
type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PromoService управляет промокодами и расчётом скидок.
type PromoService struct {
	db    *database.DB
	log   *logger.Logger
	clock clock.Clock
}

// NewPromoService создаёт сервис промокодов.
func NewPromoService(db *database.DB, log *logger.Logger, clk clock.Clock) *PromoService {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &PromoService{
		db:    db,
		log:   log,
		clock: clk,
	}
}

// NormalizePromoCode приводит код к каноническому виду (коды хранятся в верхнем регистре).
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate проверяет применимость промокода и считает скидку. Ничего не записывает,
// поэтому его можно вызывать на каждое изменение корзины.
func (s *PromoService) Validate(ctx context.Context, req *models.ValidatePromoRequest) (*models.ValidatePromoResult, error) {
	if err := validatePromoRequest(req); err != nil {
		return nil, err
	}

	promo, err := s.loadPromo(ctx, s.db, NormalizePromoCode(req.Code), false)
	if err != nil {
		return nil, err
	}

	discount, err := s.evaluate(ctx, s.db, promo, req)
	if err != nil {
		return nil, err
	}

	return &models.ValidatePromoResult{
		Valid:          true,
		PromoCode:      promo.Code,
		DiscountType:   promo.DiscountType,
		DiscountAmount: discount,
		FinalAmount:    models.RoundMoney(req.OrderAmount.Sub(discount)),
	}, nil
}

// ApplyWithTx повторяет проверку под блокировкой строки промокода (SELECT ... FOR UPDATE).
// Блокировка держится до конца транзакции заказа, поэтому параллельные оформления
// на последнее погашение сериализуются. Запись о погашении делает RecordUsageWithTx
// после вставки заказа.
func (s *PromoService) ApplyWithTx(ctx context.Context, tx *sql.Tx, req *models.ValidatePromoRequest) (*models.PromoCode, decimal.Decimal, error) {
	if err := validatePromoRequest(req); err != nil {
		return nil, decimal.Zero, err
	}

	promo, err := s.loadPromo(ctx, tx, NormalizePromoCode(req.Code), true)
	if err != nil {
		return nil, decimal.Zero, err
	}

	discount, err := s.evaluate(ctx, tx, promo, req)
	if err != nil {
		return nil, decimal.Zero, err
	}

	return promo, discount, nil
}

// RecordUsageWithTx добавляет запись о погашении промокода.
func (s *PromoService) RecordUsageWithTx(ctx context.Context, tx *sql.Tx, promoID, orderID uuid.UUID, userID *uuid.UUID, amount decimal.Decimal) (*models.PromoCodeUsage, error) {
	usage := &models.PromoCodeUsage{
		ID:             uuid.New(),
		PromoCodeID:    promoID,
		OrderID:        orderID,
		UserID:         userID,
		DiscountAmount: models.RoundMoney(amount),
		UsedAt:         s.clock.Now(),
	}

	query := `
		INSERT INTO promo_code_usages (id, promo_code_id, order_id, user_id, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.ExecContext(ctx, query, usage.ID, usage.PromoCodeID, usage.OrderID, usage.UserID, usage.DiscountAmount, usage.UsedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperror.Conflict("promo code already applied to this order", err)
		}
		return nil, fmt.Errorf("failed to record promo usage: %w", err)
	}

	return usage, nil
}

// evaluate проходит правила по порядку и останавливается на первом нарушении.
func (s *PromoService) evaluate(ctx context.Context, q rowQueryer, promo *models.PromoCode, req *models.ValidatePromoRequest) (decimal.Decimal, error) {
	if err := checkPromoRules(promo, req, s.clock.Now()); err != nil {
		return decimal.Zero, err
	}

	if err := s.checkUsageLimits(ctx, q, promo, req.UserID); err != nil {
		return decimal.Zero, err
	}

	return calculateDiscount(promo, req.OrderAmount), nil
}

func (s *PromoService) checkUsageLimits(ctx context.Context, q rowQueryer, promo *models.PromoCode, userID *uuid.UUID) error {
	if promo.UsageLimit != nil {
		var used int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM promo_code_usages WHERE promo_code_id = $1", promo.ID).Scan(&used); err != nil {
			return fmt.Errorf("failed to count promo usages: %w", err)
		}
		if used >= *promo.UsageLimit {
			return apperror.BusinessRule(apperror.ReasonUsageLimitExceeded, "promo code usage limit has been reached").
				WithDetail("usage_limit", *promo.UsageLimit)
		}
	}

	if promo.PerUserLimit != nil && userID != nil {
		var used int
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM promo_code_usages WHERE promo_code_id = $1 AND user_id = $2", promo.ID, *userID).Scan(&used); err != nil {
			return fmt.Errorf("failed to count user promo usages: %w", err)
		}
		if used >= *promo.PerUserLimit {
			return apperror.BusinessRule(apperror.ReasonUsageLimitExceeded, "you have already used this promo code the maximum number of times").
				WithDetail("per_user_limit", *promo.PerUserLimit)
		}
	}

	return nil
}

// checkPromoRules проверяет активность, срок действия, минимальную сумму и область действия.
func checkPromoRules(promo *models.PromoCode, req *models.ValidatePromoRequest, now time.Time) error {
	if !promo.IsActive {
		return apperror.BusinessRule(apperror.ReasonCodeInactive, "promo code is not active")
	}

	if now.Before(promo.ValidFrom) {
		return apperror.BusinessRule(apperror.ReasonCodeNotYetValid, "promo code is not valid yet").
			WithDetail("valid_from", promo.ValidFrom)
	}
	if now.After(promo.ValidUntil) {
		return apperror.BusinessRule(apperror.ReasonCodeExpired, "promo code has expired").
			WithDetail("valid_until", promo.ValidUntil)
	}

	if req.OrderAmount.LessThan(promo.MinOrderAmount) {
		shortfall := models.RoundMoney(promo.MinOrderAmount.Sub(req.OrderAmount))
		return apperror.BusinessRule(apperror.ReasonMinimumOrderNotMet,
			fmt.Sprintf("minimum order amount for this code is KES %s, add KES %s more",
				promo.MinOrderAmount.StringFixed(2), shortfall.StringFixed(2))).
			WithDetail("min_order_amount", promo.MinOrderAmount).
			WithDetail("shortfall", shortfall)
	}

	if promo.Scoped() && !overlaps(promo.ProductIDs, req.ProductIDs) && !overlaps(promo.CategoryIDs, req.CategoryIDs) {
		return apperror.BusinessRule(apperror.ReasonScopeMismatch, "promo code does not apply to the items in your cart")
	}

	return nil
}

// calculateDiscount: процент от суммы с потолком max_discount, либо фиксированная сумма не больше заказа.
func calculateDiscount(promo *models.PromoCode, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch promo.DiscountType {
	case models.DiscountTypePercentage:
		discount = amount.Mul(promo.DiscountValue).Div(hundred)
		if promo.MaxDiscount != nil && discount.GreaterThan(*promo.MaxDiscount) {
			discount = *promo.MaxDiscount
		}
	case models.DiscountTypeFixed:
		discount = promo.DiscountValue
	default:
		return decimal.Zero
	}

	if discount.IsNegative() {
		return decimal.Zero
	}
	// вниз до копеек: скидка не превышает amount*value/100
	return decimal.Min(discount, amount).RoundFloor(2)
}

func overlaps(scope, requested []uuid.UUID) bool {
	if len(scope) == 0 || len(requested) == 0 {
		return false
	}
	set := make(map[uuid.UUID]struct{}, len(scope))
	for _, id := range scope {
		set[id] = struct{}{}
	}
	for _, id := range requested {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

func validatePromoRequest(req *models.ValidatePromoRequest) error {
	if req == nil || strings.TrimSpace(req.Code) == "" {
		return apperror.Validation("code is required", nil)
	}
	if req.OrderAmount.IsNegative() {
		return apperror.Validation("order_amount must be non-negative", nil)
	}
	return nil
}

func (s *PromoService) loadPromo(ctx context.Context, q rowQueryer, code string, lock bool) (*models.PromoCode, error) {
	query := "SELECT " + promoColumns + " FROM promo_codes WHERE code = $1"
	if lock {
		query += " FOR UPDATE"
	}

	promo, err := scanPromo(q.QueryRowContext(ctx, query, code), false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFoundReason(apperror.ReasonCodeNotFound, "promo code not found")
		}
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return promo, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPromo(row rowScanner, withUsedCount bool) (*models.PromoCode, error) {
	var (
		p            models.PromoCode
		maxDiscount  decimal.NullDecimal
		usageLimit   sql.NullInt64
		perUserLimit sql.NullInt64
		productIDs   pq.StringArray
		categoryIDs  pq.StringArray
	)

	dest := []interface{}{
		&p.ID, &p.Code, &p.Description, &p.DiscountType, &p.DiscountValue, &p.MinOrderAmount, &maxDiscount,
		&usageLimit, &perUserLimit, &p.ValidFrom, &p.ValidUntil, &p.IsActive, &productIDs, &categoryIDs,
		&p.CreatedAt, &p.UpdatedAt,
	}
	if withUsedCount {
		dest = append(dest, &p.UsedCount)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if maxDiscount.Valid {
		v := maxDiscount.Decimal
		p.MaxDiscount = &v
	}
	if usageLimit.Valid {
		v := int(usageLimit.Int64)
		p.UsageLimit = &v
	}
	if perUserLimit.Valid {
		v := int(perUserLimit.Int64)
		p.PerUserLimit = &v
	}

	var err error
	if p.ProductIDs, err = parseUUIDs(productIDs); err != nil {
		return nil, fmt.Errorf("invalid product_ids: %w", err)
	}
	if p.CategoryIDs, err = parseUUIDs(categoryIDs); err != nil {
		return nil, fmt.Errorf("invalid category_ids: %w", err)
	}

	return &p, nil
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func uuidStrings(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// CreatePromoCode создаёт новый промокод.
func (s *PromoService) CreatePromoCode(ctx context.Context, req *models.CreatePromoCodeRequest) (*models.PromoCode, error) {
	code := NormalizePromoCode(req.Code)
	if !promoCodePattern.MatchString(code) {
		return nil, apperror.Validation("code must be 3-32 characters of A-Z, 0-9, '-' or '_'", nil)
	}

	promo := &models.PromoCode{
		ID:             uuid.New(),
		Code:           code,
		Description:    req.Description,
		DiscountType:   req.DiscountType,
		DiscountValue:  req.DiscountValue,
		MinOrderAmount: req.MinOrderAmount,
		MaxDiscount:    req.MaxDiscount,
		UsageLimit:     req.UsageLimit,
		PerUserLimit:   req.PerUserLimit,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		IsActive:       req.IsActive,
		ProductIDs:     req.ProductIDs,
		CategoryIDs:    req.CategoryIDs,
		CreatedAt:      s.clock.Now(),
		UpdatedAt:      s.clock.Now(),
	}
	if err := validatePromoCodePayload(promo); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	query := `
		INSERT INTO promo_codes (id, code, description, discount_type, discount_value, min_order_amount, max_discount,
		                         usage_limit, per_user_limit, valid_from, valid_until, is_active, product_ids, category_ids,
		                         created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := s.db.ExecContext(ctx, query, promo.ID, promo.Code, promo.Description, promo.DiscountType, promo.DiscountValue,
		promo.MinOrderAmount, promo.MaxDiscount, promo.UsageLimit, promo.PerUserLimit, promo.ValidFrom, promo.ValidUntil,
		promo.IsActive, uuidStrings(promo.ProductIDs), uuidStrings(promo.CategoryIDs), promo.CreatedAt, promo.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperror.Conflict("promo code already exists", err)
		}
		return nil, fmt.Errorf("failed to create promo code: %w", err)
	}

	s.log.WithField("promo_code", promo.Code).Info("Promo code created")
	return promo, nil
}

// UpdatePromoCode обновляет параметры промокода.
func (s *PromoService) UpdatePromoCode(ctx context.Context, code string, req *models.UpdatePromoCodeRequest) (*models.PromoCode, error) {
	code = NormalizePromoCode(code)
	draft := &models.PromoCode{
		Code:           code,
		DiscountType:   req.DiscountType,
		DiscountValue:  req.DiscountValue,
		MinOrderAmount: req.MinOrderAmount,
		MaxDiscount:    req.MaxDiscount,
		UsageLimit:     req.UsageLimit,
		PerUserLimit:   req.PerUserLimit,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
	}
	if err := validatePromoCodePayload(draft); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	query := `
		UPDATE promo_codes
		SET description = $1, discount_type = $2, discount_value = $3, min_order_amount = $4, max_discount = $5,
		    usage_limit = $6, per_user_limit = $7, valid_from = $8, valid_until = $9, is_active = $10,
		    product_ids = $11, category_ids = $12, updated_at = $13
		WHERE code = $14
	`

	result, err := s.db.ExecContext(ctx, query, req.Description, req.DiscountType, req.DiscountValue, req.MinOrderAmount,
		req.MaxDiscount, req.UsageLimit, req.PerUserLimit, req.ValidFrom, req.ValidUntil, req.IsActive,
		uuidStrings(req.ProductIDs), uuidStrings(req.CategoryIDs), s.clock.Now(), code)
	if err != nil {
		return nil, fmt.Errorf("failed to update promo code: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperror.NotFound("promo code not found", nil)
	}

	return s.GetPromoCode(ctx, code)
}

// DeletePromoCode удаляет промокод. Погашенный промокод удалить нельзя, его следует деактивировать.
func (s *PromoService) DeletePromoCode(ctx context.Context, code string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM promo_codes WHERE code = $1", NormalizePromoCode(code))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return apperror.Conflict("promo code has been redeemed; deactivate it instead", err)
		}
		return fmt.Errorf("failed to delete promo code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("promo code not found", nil)
	}
	return nil
}

const promoUsedCountColumn = `,
		       (SELECT COUNT(*) FROM promo_code_usages u WHERE u.promo_code_id = promo_codes.id) AS used_count`

// GetPromoCode возвращает промокод по коду вместе с числом погашений.
func (s *PromoService) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	query := "SELECT " + promoColumns + promoUsedCountColumn + " FROM promo_codes WHERE code = $1"

	promo, err := scanPromo(s.db.QueryRowContext(ctx, query, NormalizePromoCode(code)), true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFoundReason(apperror.ReasonCodeNotFound, "promo code not found")
		}
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return promo, nil
}

// ListPromoCodes возвращает список промокодов.
func (s *PromoService) ListPromoCodes(ctx context.Context, limit, offset int) ([]*models.PromoCode, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + promoColumns + promoUsedCountColumn + `
		FROM promo_codes
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list promo codes: %w", err)
	}
	defer rows.Close()

	var promos []*models.PromoCode
	for rows.Next() {
		p, err := scanPromo(rows, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan promo code: %w", err)
		}
		promos = append(promos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate promo codes: %w", err)
	}

	return promos, nil
}

// ListUsages возвращает историю погашений промокода, новые сверху.
func (s *PromoService) ListUsages(ctx context.Context, code string, limit, offset int) ([]*models.PromoCodeUsage, error) {
	promo, err := s.GetPromoCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT u.id, u.promo_code_id, u.order_id, o.order_number, u.user_id, u.discount_amount, u.used_at
		FROM promo_code_usages u
		JOIN orders o ON o.id = u.order_id
		WHERE u.promo_code_id = $1
		ORDER BY u.used_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, promo.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list promo usages: %w", err)
	}
	defer rows.Close()

	var usages []*models.PromoCodeUsage
	for rows.Next() {
		u := &models.PromoCodeUsage{}
		if err := rows.Scan(&u.ID, &u.PromoCodeID, &u.OrderID, &u.OrderNumber, &u.UserID, &u.DiscountAmount, &u.UsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan promo usage: %w", err)
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate promo usages: %w", err)
	}

	return usages, nil
}

func validatePromoCodePayload(p *models.PromoCode) error {
	switch p.DiscountType {
	case models.DiscountTypeFixed:
		if !p.DiscountValue.IsPositive() {
			return fmt.Errorf("discount_value must be positive for fixed discount")
		}
	case models.DiscountTypePercentage:
		if !p.DiscountValue.IsPositive() || p.DiscountValue.GreaterThan(hundred) {
			return fmt.Errorf("percentage discount_value must be between 0 and 100")
		}
	default:
		return fmt.Errorf("invalid discount_type")
	}

	if p.MinOrderAmount.IsNegative() {
		return fmt.Errorf("min_order_amount must be non-negative")
	}
	if p.MaxDiscount != nil && p.MaxDiscount.IsNegative() {
		return fmt.Errorf("max_discount must be non-negative")
	}
	if p.UsageLimit != nil && *p.UsageLimit <= 0 {
		return fmt.Errorf("usage_limit must be positive")
	}
	if p.PerUserLimit != nil && *p.PerUserLimit <= 0 {
		return fmt.Errorf("per_user_limit must be positive")
	}
	if p.ValidFrom.IsZero() || p.ValidUntil.IsZero() {
		return fmt.Errorf("valid_from and valid_until are required")
	}
	if !p.ValidUntil.After(p.ValidFrom) {
		return fmt.Errorf("valid_until must be after valid_from")
	}
	return nil
}
