package generation

import (
	"fmt"

	"github.com/genstudio/backend/internal/models"
)

// Pricing is the credit cost per generation, by asset type.
type Pricing struct {
	Image int64
	Video int64
}

func (p Pricing) Cost(assetType string) (int64, error) {
	switch assetType {
	case models.AssetTypeImage:
		return p.Image, nil
	case models.AssetTypeVideo:
		return p.Video, nil
	default:
		return 0, fmt.Errorf("no price for asset type %q", assetType)
	}
}
