package analysis

import (
	"strings"
)

// Category defines the supported analysis categories.
type Category string

const (
	CategoryIdentification Category = "plant_identification"
	CategoryDisease        Category = "disease_detection"
	CategoryGrowth         Category = "growth_analysis"
	CategoryComplete       Category = "complete"
)

// Categories lists every supported category in presentation order.
func Categories() []Category {
	return []Category{CategoryIdentification, CategoryDisease, CategoryGrowth, CategoryComplete}
}

// Describe returns the user-facing description for a category.
func Describe(c Category) string {
	switch c {
	case CategoryIdentification:
		return "Nhận dạng loại cây trồng"
	case CategoryDisease:
		return "Phát hiện bệnh trên cây"
	case CategoryGrowth:
		return "Phân tích tình trạng sinh trưởng"
	case CategoryComplete:
		return "Phân tích toàn diện (bao gồm tất cả)"
	default:
		return ""
	}
}

// ParseCategory normalizes and validates a category string.
func ParseCategory(raw string) (Category, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return "", &ValidationError{Msg: "analysis category is required"}
	}
	switch strings.ToLower(normalized) {
	case string(CategoryIdentification):
		return CategoryIdentification, nil
	case string(CategoryDisease):
		return CategoryDisease, nil
	case string(CategoryGrowth):
		return CategoryGrowth, nil
	case string(CategoryComplete):
		return CategoryComplete, nil
	default:
		return "", &ValidationError{Msg: "analysis category is invalid"}
	}
}
