package service

import (
	"math"
	"time"

	"evcharge/backend/services/booking-service/internal/models"
)

// deliveredEnergy returns the session energy in kWh: the newest cumulative
// meter reading when the charger reports one, otherwise the trapezoidal
// integral of power over time.
func deliveredEnergy(samples []models.SocSample) float64 {
	for i := len(samples) - 1; i >= 0; i-- {
		if e := samples[i].EnergyDeliveredKWh; e != nil {
			return roundTo(*e, 3)
		}
	}
	return roundTo(integratePower(samples), 3)
}

func integratePower(samples []models.SocSample) float64 {
	var (
		total float64
		prev  *models.SocSample
	)
	for i := range samples {
		cur := &samples[i]
		if cur.PowerKW == nil {
			continue
		}
		if prev != nil {
			hours := cur.Timestamp.Sub(prev.Timestamp).Hours()
			if hours > 0 {
				total += (*prev.PowerKW + *cur.PowerKW) / 2 * hours
			}
		}
		prev = cur
	}
	return total
}

// estimateRemaining projects minutes to targetSOC from the charge rate
// between two samples. Nil when the rate is not positive.
func estimateRemaining(prev *models.SocSample, cur models.SocSample, targetSOC int) *int {
	if prev == nil || float64(targetSOC) <= cur.CurrentSOC {
		return nil
	}
	elapsed := cur.Timestamp.Sub(prev.Timestamp)
	gained := cur.CurrentSOC - prev.CurrentSOC
	if elapsed <= 0 || gained <= 0 {
		return nil
	}
	perPercent := elapsed.Minutes() / gained
	minutes := int(math.Ceil((float64(targetSOC) - cur.CurrentSOC) * perPercent))
	return &minutes
}

func durationMinutes(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	return int(math.Round(end.Sub(start).Minutes()))
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func roundCents(v float64) float64 {
	return roundTo(v, 2)
}
