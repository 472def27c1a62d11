package services

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"household-planet/internal/apperror"

	"github.com/google/uuid"
)

var nonDigits = regexp.MustCompile(`\D`)

// GenerateOrderNumber формирует номер вида HP-<unix ms>-<6 hex>.
func GenerateOrderNumber(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("HP-%d-%s", now.UnixMilli(), strings.ToUpper(hex.EncodeToString(id[:3])))
}

// NormalizePhone приводит кенийский номер к формату 2547XXXXXXXX / 2541XXXXXXXX,
// который ожидает M-Pesa. Принимает 07.., 01.., +254.., 254.. с пробелами и дефисами.
func NormalizePhone(raw string) (string, error) {
	digits := nonDigits.ReplaceAllString(raw, "")

	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		digits = "254" + digits[1:]
	case len(digits) == 9 && (digits[0] == '7' || digits[0] == '1'):
		digits = "254" + digits
	}

	if len(digits) != 12 || !strings.HasPrefix(digits, "254") || (digits[3] != '7' && digits[3] != '1') {
		return "", apperror.Validation("phone must be a valid Kenyan mobile number", nil)
	}
	return digits, nil
}
