package discovery

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Categories is the category configuration of the engine: which place types
// each profile searches, which tags disqualify an attraction and which tags
// earn the diversity boost.
type Categories struct {
	AttractionTypes []string `yaml:"attraction_types"`
	RestaurantTypes []string `yaml:"restaurant_types"`
	Blocked         []string `yaml:"blocked"`
	Unique          []string `yaml:"unique"`
}

// DefaultCategories returns the built-in category sets.
func DefaultCategories() Categories {
	return Categories{
		AttractionTypes: []string{
			"tourist_attraction",
			"museum",
			"art_gallery",
			"park",
			"national_park",
			"historical_landmark",
			"zoo",
			"aquarium",
			"amusement_park",
			"cultural_center",
			"performing_arts_theater",
		},
		RestaurantTypes: []string{
			"restaurant",
			"cafe",
			"bar",
			"bakery",
			"meal_takeaway",
		},
		Blocked: []string{
			// automotive
			"car_dealer", "car_rental", "car_repair", "car_wash", "gas_station",
			// retail
			"store", "shopping_mall", "supermarket", "convenience_store",
			"department_store", "clothing_store", "electronics_store",
			"furniture_store", "hardware_store", "home_goods_store",
			// personal care and medical
			"beauty_salon", "hair_care", "spa", "dentist", "doctor",
			"hospital", "pharmacy", "physiotherapist", "veterinary_care",
			// financial
			"bank", "atm", "accounting", "insurance_agency", "finance",
			// lodging
			"lodging",
			// dining is served by the restaurant profile
			"restaurant", "food", "cafe", "bar", "bakery",
			"meal_takeaway", "meal_delivery",
		},
		Unique: []string{
			"art_gallery",
			"book_store",
			"park",
			"local_government_office",
			"museum",
			"library",
			"cafe",
		},
	}
}

// LoadCategories returns the default categories overridden by any non-empty
// list in the YAML file at path. An empty path yields the defaults.
func LoadCategories(path string) (Categories, error) {
	cats := DefaultCategories()
	if path == "" {
		return cats, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Categories{}, eris.Wrapf(err, "discovery: read categories file %s", path)
	}

	var override Categories
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Categories{}, eris.Wrapf(err, "discovery: parse categories file %s", path)
	}

	if len(override.AttractionTypes) > 0 {
		cats.AttractionTypes = override.AttractionTypes
	}
	if len(override.RestaurantTypes) > 0 {
		cats.RestaurantTypes = override.RestaurantTypes
	}
	if len(override.Blocked) > 0 {
		cats.Blocked = override.Blocked
	}
	if len(override.Unique) > 0 {
		cats.Unique = override.Unique
	}

	return cats, nil
}

// YAML renders the categories in the format LoadCategories reads.
func (c Categories) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: marshal categories")
	}
	return out, nil
}

// TypesFor returns the place types searched for a profile.
func (c Categories) TypesFor(p Profile) []string {
	if p == ProfileRestaurant {
		return c.RestaurantTypes
	}
	return c.AttractionTypes
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
