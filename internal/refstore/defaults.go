package refstore

import (
	"context"
	"encoding/base64"
)

// Pre-calibrated placeholder exemplars, used only when the store is
// completely empty so a fresh install can run a cycle before the
// operator calibrates real shots. Each is a minimal valid PNG; the
// first real calibration for an item overwrites it.
var preCalibrated = map[string]string{
	"ketchup":              placeholderPNG,
	"thai-hot-spicy-sauce": placeholderPNG,
	"straws":               placeholderPNG,
}

const placeholderPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

// SeedDefaults installs the pre-calibrated set if, and only if, the
// store holds no references at all.
func (s *Store) SeedDefaults(ctx context.Context) error {
	n, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for id, b64 := range preCalibrated {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return err
		}
		if err := s.Set(ctx, id, "image/png", data); err != nil {
			return err
		}
	}
	return nil
}
