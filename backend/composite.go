package backend

// Tier names the placement class a page occupies.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Composite routes Backend calls to one of several underlying backends by
// tier, so the page store and tier manager can address "the hot backend"
// or "the cold backend" without knowing which concrete implementation
// backs them.
type Composite struct {
	byTier map[Tier]Backend
}

// NewComposite builds a router over the given tier assignments.
func NewComposite(byTier map[Tier]Backend) *Composite {
	return &Composite{byTier: byTier}
}

// For returns the Backend assigned to tier, or nil if none is configured.
func (c *Composite) For(tier Tier) Backend {
	return c.byTier[tier]
}
