package tools

import (
	"context"
	"fmt"
)

// WeatherToolName is the declared name of the built-in weather tool.
const WeatherToolName = "get_current_weather"

// Weather returns the built-in weather lookup tool.
//
// The report is canned. A production deployment would call a weather API
// here; the contract to the orchestrator (location in, report string out)
// stays the same either way.
func Weather() Tool {
	return Tool{
		Declaration: Declaration{
			Name:        WeatherToolName,
			Description: "Get the current weather in a given location",
			Params: []Param{
				{Name: "location", Description: "The city or place to look up", Required: true},
			},
		},
		Handler: getCurrentWeather,
	}
}

func getCurrentWeather(_ context.Context, args map[string]any) (string, error) {
	location, ok := args["location"].(string)
	if !ok || location == "" {
		return "", fmt.Errorf("missing required argument %q", "location")
	}
	return fmt.Sprintf("The weather in %s is currently 75°F and sunny with a light breeze.", location), nil
}
