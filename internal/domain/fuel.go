package domain

import "fmt"

// FuelType identifies one of the monitored fuel categories.
type FuelType string

const (
	FuelPetrol FuelType = "petrol"
	FuelDiesel FuelType = "diesel"
)

// FuelTypes lists every monitored fuel in feed column order.
var FuelTypes = []FuelType{FuelPetrol, FuelDiesel}

// ParseFuelType validates a user-supplied fuel type string.
func ParseFuelType(s string) (FuelType, error) {
	switch FuelType(s) {
	case FuelPetrol:
		return FuelPetrol, nil
	case FuelDiesel:
		return FuelDiesel, nil
	default:
		return "", fmt.Errorf("unknown fuel type %q", s)
	}
}
