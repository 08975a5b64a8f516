package measurement

import "context"

// Repository stores readings. ListByFlower returns readings oldest first;
// with a Limit only the newest Limit readings are kept. Latest returns the
// newest reading of each type.
type Repository interface {
	Create(ctx context.Context, measurement *Measurement) error
	Get(ctx context.Context, id string) (*Measurement, error)
	UpdateValue(ctx context.Context, id string, value float64) error
	Delete(ctx context.Context, id string) error
	ListByFlower(ctx context.Context, flowerID string, filter HistoryFilter) ([]Measurement, error)
	Latest(ctx context.Context, flowerID string) ([]Measurement, error)
}
