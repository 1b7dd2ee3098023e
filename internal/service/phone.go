package service

import (
	"regexp"
	"strings"

	"payment-service/internal/gateway"
)

var (
	phoneNoise = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "\t", "")
	// Argentine numbers: optional +54, 2-3 digit area code, 6-8 digit subscriber number.
	argentinePhone = regexp.MustCompile(`^(\+?54)?(\d{2,3})(\d{6,8})$`)
)

// parsePhone splits a free-form phone number into area code and number.
// It returns nil for an empty input.
func parsePhone(phone string) *gateway.Phone {
	if phone == "" {
		return nil
	}

	clean := phoneNoise.Replace(phone)

	if m := argentinePhone.FindStringSubmatch(clean); m != nil {
		return &gateway.Phone{AreaCode: m[2], Number: m[3]}
	}

	if len(clean) >= 8 {
		return &gateway.Phone{AreaCode: clean[:2], Number: clean[2:]}
	}

	return &gateway.Phone{Number: clean}
}
