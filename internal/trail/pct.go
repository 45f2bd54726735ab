package trail

import "github.com/MarcoPoloResearchLab/pcttracker/internal/geo"

// pacificCrestWaypoints approximates the PCT centerline from Campo, CA to Manning Park, BC.
var pacificCrestWaypoints = []geo.Coordinate{
	{Lat: 32.59, Lon: -116.47}, // Campo
	{Lat: 32.87, Lon: -116.51}, // Mount Laguna
	{Lat: 33.28, Lon: -116.64}, // Warner Springs
	{Lat: 33.74, Lon: -116.69}, // Idyllwild
	{Lat: 33.93, Lon: -116.83},
	{Lat: 34.24, Lon: -116.87}, // Big Bear
	{Lat: 34.32, Lon: -117.44}, // Cajon Pass
	{Lat: 34.36, Lon: -117.63}, // Wrightwood
	{Lat: 34.37, Lon: -117.99},
	{Lat: 34.49, Lon: -118.32}, // Agua Dulce
	{Lat: 34.82, Lon: -118.72},
	{Lat: 35.13, Lon: -118.45}, // Tehachapi
	{Lat: 35.67, Lon: -118.23},
	{Lat: 36.07, Lon: -118.11}, // Kennedy Meadows
	{Lat: 36.58, Lon: -118.29},
	{Lat: 36.77, Lon: -118.42}, // Forester Pass
	{Lat: 37.08, Lon: -118.66},
	{Lat: 37.38, Lon: -118.80},
	{Lat: 37.65, Lon: -119.04}, // Mammoth Lakes
	{Lat: 37.87, Lon: -119.34}, // Tuolumne Meadows
	{Lat: 38.33, Lon: -119.64}, // Sonora Pass
	{Lat: 38.72, Lon: -119.93},
	{Lat: 38.94, Lon: -120.04}, // South Lake Tahoe
	{Lat: 39.32, Lon: -120.33}, // Donner Pass
	{Lat: 39.57, Lon: -120.64}, // Sierra City
	{Lat: 39.96, Lon: -121.25},
	{Lat: 40.49, Lon: -121.51},
	{Lat: 41.01, Lon: -121.65}, // Burney Falls
	{Lat: 41.17, Lon: -122.32},
	{Lat: 41.31, Lon: -122.31},
	{Lat: 41.46, Lon: -122.89}, // Etna
	{Lat: 41.84, Lon: -123.23}, // Seiad Valley
	{Lat: 42.19, Lon: -122.71}, // Ashland
	{Lat: 42.87, Lon: -122.17}, // Crater Lake
	{Lat: 43.35, Lon: -122.04},
	{Lat: 43.83, Lon: -121.76},
	{Lat: 44.42, Lon: -121.87}, // Santiam Pass
	{Lat: 45.33, Lon: -121.71}, // Timberline Lodge
	{Lat: 45.67, Lon: -121.90}, // Cascade Locks
	{Lat: 46.65, Lon: -121.39}, // White Pass
	{Lat: 47.39, Lon: -121.41}, // Snoqualmie Pass
	{Lat: 47.75, Lon: -121.09}, // Stevens Pass
	{Lat: 48.33, Lon: -120.69}, // Stehekin
	{Lat: 48.52, Lon: -120.74}, // Rainy Pass
	{Lat: 49.06, Lon: -121.05}, // Manning Park
}

// PacificCrestTrail returns the low-resolution PCT reference trail with the default threshold.
func PacificCrestTrail() *Trail {
	trail, err := New(pacificCrestWaypoints, DefaultProximityMeters)
	if err != nil {
		panic(err)
	}
	return trail
}
