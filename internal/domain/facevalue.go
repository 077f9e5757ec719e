package domain

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// Число, сразу за которым идёт знак валюты: "50$", "Steam 12.5€", "100฿".
var faceValuePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)[$€£¥฿]`)

// ParseFaceValue извлекает номинал из названия товара. При нескольких совпадениях
// используется последнее.
func ParseFaceValue(name string) (decimal.Decimal, bool) {
	matches := faceValuePattern.FindAllStringSubmatch(name, -1)
	if len(matches) == 0 {
		return decimal.Zero, false
	}

	value, err := decimal.NewFromString(matches[len(matches)-1][1])
	if err != nil || !value.IsPositive() {
		return decimal.Zero, false
	}
	return value, true
}
