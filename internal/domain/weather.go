package domain

import "context"

// WeatherKind discriminates WeatherResult variants.
type WeatherKind int

const (
	WeatherSuccess WeatherKind = iota
	WeatherCityNotFound
	WeatherTransientError
)

func (k WeatherKind) String() string {
	switch k {
	case WeatherSuccess:
		return "success"
	case WeatherCityNotFound:
		return "city_not_found"
	case WeatherTransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

// WeatherResult is the typed outcome of a weather lookup.
// Measurement fields are meaningful only when Kind is WeatherSuccess.
type WeatherResult struct {
	Kind         WeatherKind
	City         string
	TemperatureC float64
	Description  string
	HumidityPct  int

	// Err holds the cause for WeatherTransientError (wrapping ErrNotFound for
	// WeatherCityNotFound), for logging and error codes only.
	Err error
}

// WeatherProvider looks up current conditions for a city.
type WeatherProvider interface {
	Query(ctx context.Context, city string) WeatherResult
}
