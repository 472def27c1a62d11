package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"household-planet/internal/config"
	"household-planet/internal/logger"
	"household-planet/internal/redis"

	"github.com/shopspring/decimal"
)

const (
	mpesaTimestampLayout = "20060102150405"
	// Daraja отвечает этим кодом, пока клиент не подтвердил платёж на телефоне.
	mpesaStillProcessingCode = "500.001.1001"
	mpesaTokenSafetyMargin   = time.Minute
)

// Daraja считает время по Найроби.
var nairobiTime = time.FixedZone("EAT", 3*60*60)

var (
	// ErrMpesaNotConfigured возвращается, если не заданы ключи Daraja.
	ErrMpesaNotConfigured = errors.New("mpesa is not configured")
	// ErrMpesaPending означает, что итог STK push ещё неизвестен.
	ErrMpesaPending = errors.New("mpesa transaction is still being processed")
)

// MpesaGateway — операции Daraja, которые нужны платёжному сервису.
type MpesaGateway interface {
	STKPush(ctx context.Context, req StkPushRequest) (*StkPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*StkQueryResult, error)
}

// StkPushRequest — параметры запроса оплаты на телефон клиента.
type StkPushRequest struct {
	Phone       string
	Amount      decimal.Decimal
	AccountRef  string
	Description string
}

// StkPushResponse — подтверждение, что STK push отправлен.
type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// StkQueryResult — итог STK push по данным Daraja.
type StkQueryResult struct {
	ResponseCode string `json:"ResponseCode"`
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
}

// Success сообщает, что клиент оплатил.
func (r *StkQueryResult) Success() bool {
	return r.ResultCode == "0"
}

type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type darajaToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// MpesaClient — клиент Daraja API с кешированием OAuth-токена в Redis.
type MpesaClient struct {
	redis  *redis.Client
	log    *logger.Logger
	client *http.Client
	cfg    *config.MpesaConfig
	now    func() time.Time
}

// NewMpesaClient создает клиента Daraja. redis может быть nil, тогда токен запрашивается каждый раз.
func NewMpesaClient(rdb *redis.Client, log *logger.Logger, cfg *config.MpesaConfig) *MpesaClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &MpesaClient{
		redis:  rdb,
		log:    log,
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
		now:    time.Now,
	}
}

func (c *MpesaClient) configured() bool {
	return c.cfg.ConsumerKey != "" && c.cfg.ConsumerSecret != "" && c.cfg.ShortCode != "" && c.cfg.Passkey != ""
}

// STKPush отправляет запрос оплаты на телефон клиента (Lipa na M-Pesa Online).
func (c *MpesaClient) STKPush(ctx context.Context, req StkPushRequest) (*StkPushResponse, error) {
	if !c.configured() {
		return nil, ErrMpesaNotConfigured
	}

	timestamp, password := c.password()
	body := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		// Daraja принимает только целые шиллинги.
		"Amount":           req.Amount.Ceil().IntPart(),
		"PartyA":           req.Phone,
		"PartyB":           c.cfg.ShortCode,
		"PhoneNumber":      req.Phone,
		"CallBackURL":      c.cfg.CallbackURL,
		"AccountReference": req.AccountRef,
		"TransactionDesc":  req.Description,
	}

	var resp StkPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", body, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, fmt.Errorf("stk push rejected: %s", resp.ResponseDescription)
	}

	c.log.WithFields(map[string]interface{}{
		"checkout_request_id": resp.CheckoutRequestID,
		"account_ref":         req.AccountRef,
	}).Info("M-Pesa STK push sent")

	return &resp, nil
}

// QueryStatus запрашивает итог STK push. Пока клиент не ответил, возвращает ErrMpesaPending.
func (c *MpesaClient) QueryStatus(ctx context.Context, checkoutRequestID string) (*StkQueryResult, error) {
	if !c.configured() {
		return nil, ErrMpesaNotConfigured
	}

	timestamp, password := c.password()
	body := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var result StkQueryResult
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *MpesaClient) password() (string, string) {
	timestamp := c.now().In(nairobiTime).Format(mpesaTimestampLayout)
	raw := c.cfg.ShortCode + c.cfg.Passkey + timestamp
	return timestamp, base64.StdEncoding.EncodeToString([]byte(raw))
}

func (c *MpesaClient) post(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call daraja: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read daraja response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var derr darajaError
		if json.Unmarshal(raw, &derr) == nil && derr.ErrorCode == mpesaStillProcessingCode {
			return ErrMpesaPending
		}
		if resp.StatusCode == http.StatusUnauthorized && c.redis != nil {
			_ = c.redis.Delete(ctx, redis.KeyPrefixMpesaAuth)
		}
		return fmt.Errorf("daraja returned status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode daraja response: %w", err)
	}
	return nil
}

// accessToken возвращает OAuth-токен из кеша или запрашивает новый.
func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	if c.redis != nil {
		var cached string
		if err := c.redis.Get(ctx, redis.KeyPrefixMpesaAuth, &cached); err == nil && cached != "" {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request daraja token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("daraja token request returned status %d: %s", resp.StatusCode, string(body))
	}

	var token darajaToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode daraja token: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("daraja returned empty access token")
	}

	if c.redis != nil {
		ttl := time.Hour
		if secs, err := strconv.Atoi(token.ExpiresIn); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
		if ttl > mpesaTokenSafetyMargin {
			ttl -= mpesaTokenSafetyMargin
		}
		if err := c.redis.Set(ctx, redis.KeyPrefixMpesaAuth, token.AccessToken, ttl); err != nil {
			c.log.WithError(err).Warn("Failed to cache M-Pesa token")
		}
	}

	return token.AccessToken, nil
}

func (c *MpesaClient) baseURL() string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	if base == "" {
		base = "https://sandbox.safaricom.co.ke"
	}
	return base
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
