package ecommerce

import (
	"fmt"

	"github.com/meschain/syncengine/internal/domain/integration"
)

// NewAdapter builds the adapter for the settings' marketplace code
func NewAdapter(s *Settings) (integration.MarketplaceAdapter, error) {
	switch s.Code {
	case integration.MarketplaceTrendyol:
		return NewTrendyolAdapter(s)
	case integration.MarketplaceHepsiburada:
		return NewHepsiburadaAdapter(s)
	case integration.MarketplaceAmazon:
		return NewAmazonAdapter(s)
	case integration.MarketplaceEbay:
		return NewEbayAdapter(s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMarketplace, s.Code)
	}
}

// SupportedMarketplaces lists the codes NewAdapter accepts
func SupportedMarketplaces() []integration.MarketplaceCode {
	return []integration.MarketplaceCode{
		integration.MarketplaceTrendyol,
		integration.MarketplaceHepsiburada,
		integration.MarketplaceAmazon,
		integration.MarketplaceEbay,
	}
}
