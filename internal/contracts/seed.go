package contracts

// Ids of the catalog the legacy menu seeds on start. The ordering price book
// is keyed by the same menu item ids.
const (
	SeedRestaurantID = "11111111-1111-1111-1111-111111111111"
	SeedBurgerID     = "22222222-2222-2222-2222-222222222222"
	SeedFriesID      = "33333333-3333-3333-3333-333333333333"
	SeedSodaID       = "44444444-4444-4444-4444-444444444444"
)
