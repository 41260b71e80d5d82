package session

import (
	"fmt"

	"datapack-backend/internal/model"
	"datapack-backend/internal/parse"
)

// Option describes a downloadable session size from the catalog.
type Option struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	DataMB       int64           `json:"data_mb"`
	PriceNGN     int64           `json:"price_ngn"`
	ValidityDays int             `json:"validity_days"` // 0 = no expiry, only exhaustion
	PlanClass    model.PlanClass `json:"plan_class"`
}

// Free reports whether the option counts against the free monthly cap.
func (o Option) Free() bool {
	return o.PriceNGN == 0 && o.PlanClass == model.PlanFree
}

// freeOptions are the predefined free tiers. Together they stay inside
// the monthly free cap of 5 GB.
var freeOptions = []Option{
	{ID: "1gb", Name: "1GB", DataMB: 1024, PriceNGN: 0, ValidityDays: 30, PlanClass: model.PlanFree},
	{ID: "2gb", Name: "2GB", DataMB: 2048, PriceNGN: 0, ValidityDays: 30, PlanClass: model.PlanFree},
	{ID: "5gb", Name: "5GB", DataMB: 5120, PriceNGN: 0, ValidityDays: 30, PlanClass: model.PlanFree},
}

// customSizesGB are the larger sizes gated behind an unlimited
// subscription. These allowances never expire, only exhaust.
var customSizesGB = []int64{6, 7, 8, 9, 10, 15, 20, 25, 30, 40, 50, 60, 70, 80, 90, 100}

// Options returns the full download catalog.
func (m *Manager) Options() []Option {
	opts := make([]Option, 0, len(freeOptions)+len(customSizesGB))
	opts = append(opts, freeOptions...)
	for _, gb := range customSizesGB {
		opts = append(opts, Option{
			ID:        fmt.Sprintf("%dgb", gb),
			Name:      parse.SizeLabel(gb * 1024),
			DataMB:    gb * 1024,
			PlanClass: model.PlanUnlimitedRequired,
		})
	}
	return opts
}

// Option resolves a catalog option id, accepting the predefined free
// tiers and the custom "<n>gb" sizes between 6 and 100 GB.
func (m *Manager) Option(id string) (Option, error) {
	for _, o := range freeOptions {
		if o.ID == id {
			return o, nil
		}
	}

	mb, err := parse.SizeID(id)
	if err != nil {
		return Option{}, fmt.Errorf("%w: %q", ErrUnknownOption, id)
	}
	gb := mb / 1024
	if gb < 6 || gb > 100 {
		return Option{}, fmt.Errorf("%w: %q is outside the 6-100GB range", ErrUnknownOption, id)
	}
	return Option{
		ID:        id,
		Name:      parse.SizeLabel(mb),
		DataMB:    mb,
		PlanClass: model.PlanUnlimitedRequired,
	}, nil
}
