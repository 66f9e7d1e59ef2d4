package api

import "net/http"

// pathItem builds one GET operation for the OpenAPI document.
func pathItem(summary, description string, params ...map[string]interface{}) map[string]interface{} {
	if params == nil {
		params = []map[string]interface{}{}
	}
	return map[string]interface{}{
		"get": map[string]interface{}{
			"summary":     summary,
			"description": description,
			"tags":        []string{"default"},
			"parameters":  params,
			"responses": map[string]interface{}{
				"200": map[string]interface{}{
					"description": "Successful Response",
					"content": map[string]interface{}{
						"application/json": map[string]interface{}{
							"schema": map[string]interface{}{"type": "string"},
						},
					},
				},
			},
		},
	}
}

func pathParam(name string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "path",
		"required":    true,
		"schema":      map[string]interface{}{"type": "string"},
		"description": name,
	}
}

func queryParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"required":    false,
		"schema":      map[string]interface{}{"type": "string"},
		"description": description,
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := map[string]interface{}{
		"openapi": "3.1",
		"title":   "EU Flight Monitor",
		"version": "1.0.0",
		"tags": []map[string]interface{}{
			{"name": "default", "description": "Default endpoints"},
		},
		"paths": map[string]interface{}{
			"/":         pathItem("Read Root", "API documentation"),
			"/airports": pathItem("Get Airports", "Get list of all airports"),
			"/airports/{airport_code}/flights": pathItem("Get Airport Flights",
				"Get all flights from a specific airport",
				pathParam("airport_code"),
				queryParam("date", "Calendar date (YYYY-MM-DD), default today")),
			"/flights/delayed": pathItem("Get Delayed Flight List",
				"Get all flights delayed by more than 2 hours"),
			"/flights/{flight_id}": pathItem("Get Flight Details",
				"Get details for a specific flight", pathParam("flight_id")),
			"/flights/active": pathItem("Get Active Flight List",
				"Get all currently active flights"),
			"/flights/search/{flight_number}": pathItem("Search Flight",
				"Get the most recent flight matching a flight number",
				pathParam("flight_number")),
			"/api/flights/live": pathItem("Get Live Flights",
				"Get live flight data with optional filtering",
				queryParam("airline", "Filter by airline IATA code"),
				queryParam("limit", "Limit the number of results (default 100)")),
			"/api/flights/search": pathItem("Search Flights",
				"Search the external feed with filters",
				queryParam("flight", "Flight number"),
				queryParam("airline", "Airline IATA code"),
				queryParam("departure", "Departure airport IATA code"),
				queryParam("arrival", "Arrival airport IATA code")),
			"/api/stats/delays": pathItem("Get Delay Stats",
				"Get airline delay statistics"),
			"/api/flights/{flight_id}/history": pathItem("Get Flight History",
				"Get flight status history", pathParam("flight_id")),
			"/api/airports/european": pathItem("Get European Airports",
				"Get airports in EU member states plus Norway and Switzerland"),
		},
	}
	writeJSON(w, http.StatusOK, doc)
}
