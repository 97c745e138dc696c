package inventory

import (
	"fmt"
	"time"
)

// AlertType classifies a stock alert.
type AlertType string

const (
	AlertLowStock   AlertType = "low_stock"
	AlertOutOfStock AlertType = "out_of_stock"
	AlertOverStock  AlertType = "over_stock"
)

// Alert is a derived, unpersisted stock warning.
type Alert struct {
	Material Material  `json:"material"`
	Type     AlertType `json:"type"`
	Message  string    `json:"message"`
}

// StockAlert is a persisted alert with a resolution lifecycle.
type StockAlert struct {
	ID         int64       `json:"id"`
	Material   MaterialRef `json:"material"`
	Type       AlertType   `json:"type"`
	Message    string      `json:"message"`
	IsResolved bool        `json:"is_resolved"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// SyncResult summarises one SyncAlerts run.
type SyncResult struct {
	Opened   int `json:"opened"`
	Resolved int `json:"resolved"`
}

// DeriveAlerts returns a shortage alert for every active material whose stock
// is at or below its minimum. Inactive materials are skipped.
func DeriveAlerts(materials []Material) []Alert {
	alerts := []Alert{}
	for _, m := range materials {
		if !m.IsActive || m.CurrentStock.GreaterThan(m.MinimumStock) {
			continue
		}
		if !m.CurrentStock.IsPositive() {
			alerts = append(alerts, Alert{Material: m, Type: AlertOutOfStock, Message: fmt.Sprintf("%s is out of stock", m.Name)})
			continue
		}
		alerts = append(alerts, Alert{
			Material: m,
			Type:     AlertLowStock,
			Message:  fmt.Sprintf("%s is low on stock (%s remaining)", m.Name, m.CurrentStock.String()),
		})
	}
	return alerts
}

// deriveAll adds over_stock alerts to the shortage ones for persisted tracking.
func deriveAll(materials []Material) []Alert {
	alerts := DeriveAlerts(materials)
	for _, m := range materials {
		if !m.IsActive || !m.MaximumStock.IsPositive() || !m.CurrentStock.GreaterThan(m.MaximumStock) {
			continue
		}
		alerts = append(alerts, Alert{
			Material: m,
			Type:     AlertOverStock,
			Message:  fmt.Sprintf("%s exceeds maximum stock (%s of %s)", m.Name, m.CurrentStock.String(), m.MaximumStock.String()),
		})
	}
	return alerts
}

type alertKey struct {
	ref MaterialRef
	typ AlertType
}

// planSync diffs derived conditions against open alerts.
func planSync(derived []Alert, open []StockAlert) (toOpen []Alert, toResolve []StockAlert) {
	active := make(map[alertKey]bool, len(derived))
	for _, a := range derived {
		active[alertKey{a.Material.Ref, a.Type}] = true
	}
	existing := make(map[alertKey]bool, len(open))
	for _, a := range open {
		k := alertKey{a.Material, a.Type}
		existing[k] = true
		if !active[k] {
			toResolve = append(toResolve, a)
		}
	}
	for _, a := range derived {
		if !existing[alertKey{a.Material.Ref, a.Type}] {
			toOpen = append(toOpen, a)
		}
	}
	return toOpen, toResolve
}
