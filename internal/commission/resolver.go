package commission

import (
	"fmt"
	"sort"
	"time"

	"studyhub/pkg/models"

	"github.com/shopspring/decimal"
)

var (
	maxRate = decimal.NewFromInt(100)
	hundred = decimal.NewFromInt(100)
)

// ValidateTiers проверяет таблицу уровней: уровни уникальны, у первого уровня порог 0,
// пороги строго возрастают вместе с уровнем, ставки в диапазоне [0, 100].
func ValidateTiers(tiers []models.CommissionTier) error {
	if len(tiers) == 0 {
		return models.NewValidationError("tiers", "таблица уровней не может быть пустой")
	}

	sorted := sortedByLevel(tiers)
	if sorted[0].TierLevel != 1 {
		return models.NewValidationError("tier_level", "таблица должна начинаться с уровня 1")
	}
	if sorted[0].MonthlyUserThreshold != 0 {
		return models.NewValidationError("monthly_user_threshold", "у уровня 1 порог должен быть 0")
	}

	for i, t := range sorted {
		if t.CommissionRate.IsNegative() || t.CommissionRate.GreaterThan(maxRate) {
			return models.NewValidationError("commission_rate",
				fmt.Sprintf("ставка уровня %d должна быть от 0 до 100", t.TierLevel))
		}
		if !models.FitsMoneyPlaces(t.CommissionRate) {
			return models.NewValidationError("commission_rate",
				fmt.Sprintf("ставка уровня %d должна иметь не больше %d знаков после запятой", t.TierLevel, models.MoneyPlaces))
		}
		if t.MonthlyUserThreshold < 0 {
			return models.NewValidationError("monthly_user_threshold",
				fmt.Sprintf("порог уровня %d не может быть отрицательным", t.TierLevel))
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if t.TierLevel == prev.TierLevel {
			return models.NewValidationError("tier_level", fmt.Sprintf("уровень %d повторяется", t.TierLevel))
		}
		if t.MonthlyUserThreshold <= prev.MonthlyUserThreshold {
			return models.NewValidationError("monthly_user_threshold",
				fmt.Sprintf("порог уровня %d должен быть больше порога уровня %d", t.TierLevel, prev.TierLevel))
		}
	}
	return nil
}

// ResolveRate возвращает действующую ставку и уровень создателя.
//
// При действующей защите уровня возвращается ставка current_tier_level независимо от
// текущих показателей. Если такого уровня больше нет в таблице, ставка определяется по показателям.
// Иначе выбирается самый высокий уровень с порогом не выше monthlyPaidUsers.
func ResolveRate(creator *models.CreatorProfile, tiers []models.CommissionTier, monthlyPaidUsers int, now time.Time) (decimal.Decimal, int) {
	if len(tiers) == 0 {
		return decimal.Zero, 0
	}

	if creator != nil && creator.IsProtected(now) {
		for _, t := range tiers {
			if t.TierLevel == creator.CurrentTierLevel {
				return t.CommissionRate, t.TierLevel
			}
		}
	}

	t := performanceTier(tiers, monthlyPaidUsers)
	return t.CommissionRate, t.TierLevel
}

// performanceTier возвращает самый высокий уровень, порог которого достигнут
func performanceTier(tiers []models.CommissionTier, monthlyPaidUsers int) models.CommissionTier {
	sorted := sortedByThreshold(tiers)
	current := sorted[0]
	for _, t := range sorted[1:] {
		if t.MonthlyUserThreshold > monthlyPaidUsers {
			break
		}
		current = t
	}
	return current
}

// MonthWindow возвращает полуинтервал [начало месяца, now) в UTC
func MonthWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, now
}

// TierProgress описывает положение создателя в таблице уровней
type TierProgress struct {
	Current         *models.CommissionTier
	Next            *models.CommissionTier
	ProgressPercent decimal.Decimal
}

// Progress вычисляет прогресс до следующего уровня.
// На последнем уровне прогресс равен 100.
func Progress(tiers []models.CommissionTier, monthlyPaidUsers, currentLevel int) TierProgress {
	if len(tiers) == 0 {
		return TierProgress{ProgressPercent: decimal.Zero}
	}

	sorted := sortedByLevel(tiers)
	idx := -1
	for i, t := range sorted {
		if t.TierLevel == currentLevel {
			idx = i
			break
		}
	}
	if idx < 0 {
		perf := performanceTier(tiers, monthlyPaidUsers)
		for i, t := range sorted {
			if t.TierLevel == perf.TierLevel {
				idx = i
				break
			}
		}
	}

	current := sorted[idx]
	if idx == len(sorted)-1 {
		return TierProgress{Current: &current, ProgressPercent: hundred}
	}
	next := sorted[idx+1]

	span := decimal.NewFromInt(int64(next.MonthlyUserThreshold - current.MonthlyUserThreshold))
	done := decimal.NewFromInt(int64(monthlyPaidUsers - current.MonthlyUserThreshold))
	pct := done.Mul(hundred).Div(span).Round(models.MoneyPlaces)
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		pct = hundred
	}

	return TierProgress{Current: &current, Next: &next, ProgressPercent: pct}
}

func sortedByLevel(tiers []models.CommissionTier) []models.CommissionTier {
	sorted := append([]models.CommissionTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TierLevel < sorted[j].TierLevel })
	return sorted
}

func sortedByThreshold(tiers []models.CommissionTier) []models.CommissionTier {
	sorted := append([]models.CommissionTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MonthlyUserThreshold < sorted[j].MonthlyUserThreshold })
	return sorted
}
