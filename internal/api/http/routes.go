package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	ratelimit "github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/kelvins/geocoder"

	"github.com/ostap7k/city-weather/internal/scheduler"
	"github.com/ostap7k/city-weather/internal/store"
	"github.com/ostap7k/city-weather/internal/weather"
)

var validate = validator.New()

// Deps bundles everything the HTTP layer talks to.
type Deps struct {
	Service *weather.Service
	Sweep   *scheduler.Scheduler

	// GeocoderAPIKey enables coordinate resolution on city creation when
	// lat/lon are omitted. Empty disables geocoding.
	GeocoderAPIKey string

	// Per-client rate limit for the status poll endpoint.
	StatusRateMax    int
	StatusRateWindow time.Duration
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.StatusRateMax <= 0 {
		deps.StatusRateMax = 50
	}
	if deps.StatusRateWindow <= 0 {
		deps.StatusRateWindow = 5 * time.Minute
	}

	v1 := app.Group("/api/v1")

	v1.Get("/cities", func(c *fiber.Ctx) error {
		cities, err := deps.Service.ListWithTemperature()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list cities")
		}
		return c.JSON(fiber.Map{"cities": cities})
	})

	v1.Get("/cities/search", func(c *fiber.Ctx) error {
		term := c.Query("q")
		if term == "" {
			return fiber.NewError(fiber.StatusBadRequest, "q query parameter is required")
		}
		cities, err := deps.Service.SearchWithTemperature(term)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "search failed")
		}
		return c.JSON(fiber.Map{"query": term, "cities": cities})
	})

	// The polling endpoint is hit in a loop by every open page, so it gets
	// its own per-client limit.
	statusLimiter := ratelimit.New(ratelimit.Config{
		Max:        deps.StatusRateMax,
		Expiration: deps.StatusRateWindow,
	})
	v1.Post("/cities/status", statusLimiter, func(c *fiber.Ctx) error {
		var req statusRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		statuses, err := deps.Service.CheckStatus(req.CityIDs)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "status check failed")
		}
		return c.JSON(fiber.Map{"city_status_list": statuses})
	})

	v1.Get("/cities/:id", func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		city, err := deps.Service.ByID(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "city not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load city")
		}
		return c.JSON(city)
	})

	v1.Post("/cities", func(c *fiber.Ctx) error {
		var req createCityRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		coords, err := resolveCoordinates(req, deps.GeocoderAPIKey)
		if err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}

		city, err := deps.Service.CreateCity(weather.City{Name: req.Name, Country: req.Country}, coords)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to create city")
		}
		return c.Status(fiber.StatusCreated).JSON(city)
	})

	v1.Delete("/cities/:id", func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		if err := deps.Service.DeleteCity(id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "city not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to delete city")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	registerAdminRoutes(v1, deps)
}

func registerAdminRoutes(v1 fiber.Router, deps Deps) {
	admin := v1.Group("/admin")

	admin.Get("/sweep", func(c *fiber.Ctx) error {
		scheduled, next := deps.Sweep.Status()
		resp := fiber.Map{"scheduled": scheduled, "next_run": nil}
		if scheduled {
			resp["next_run"] = next.Unix()
		}
		return c.JSON(resp)
	})

	admin.Post("/sweep/trigger", func(c *fiber.Ctx) error {
		deps.Sweep.TriggerNow()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "sweep triggered"})
	})

	admin.Post("/sweep/stop", func(c *fiber.Ctx) error {
		if err := deps.Sweep.StopSweep(); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to stop sweep")
		}
		return c.JSON(fiber.Map{"message": "sweep stopped"})
	})

	admin.Post("/sweep/reschedule", func(c *fiber.Ctx) error {
		var req rescheduleRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
			}
			if err := validate.Struct(req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		if err := deps.Sweep.Reschedule(time.Duration(req.IntervalSeconds) * time.Second); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to reschedule sweep")
		}
		return c.JSON(fiber.Map{"message": "sweep rescheduled"})
	})

	admin.Post("/cities/:id/abort/reset", func(c *fiber.Ctx) error {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		if err := deps.Service.ResetAbort(id); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to reset abort counter")
		}
		return c.JSON(fiber.Map{"message": "abort counter reset"})
	})

	admin.Post("/cache/flush", func(c *fiber.Ctx) error {
		deleted, err := deps.Service.FlushCache()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to flush cache")
		}
		return c.JSON(fiber.Map{"deleted": deleted})
	})
}

type statusRequest struct {
	CityIDs []int64 `json:"city_ids" validate:"required,min=1,dive,gt=0"`
}

type createCityRequest struct {
	Name    string   `json:"name" validate:"required"`
	Country string   `json:"country" validate:"required"`
	Lat     *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon     *float64 `json:"lon" validate:"omitempty,gte=-180,lte=180"`
}

type rescheduleRequest struct {
	IntervalSeconds int64 `json:"interval_seconds" validate:"omitempty,gt=0"`
}

func parseID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid city id")
	}
	return id, nil
}

// resolveCoordinates returns the request's coordinates when both are set,
// falls back to geocoding the city name when an API key is configured and
// otherwise creates the city without coordinates (it will surface as
// no_coordinates until they are filled in).
func resolveCoordinates(req createCityRequest, apiKey string) (*weather.Coordinates, error) {
	if req.Lat != nil && req.Lon != nil {
		return &weather.Coordinates{Lat: *req.Lat, Lon: *req.Lon}, nil
	}
	if req.Lat != nil || req.Lon != nil {
		return nil, errors.New("lat and lon must be provided together")
	}
	if apiKey == "" {
		return nil, nil
	}

	geocoder.ApiKey = apiKey
	loc, err := geocoder.Geocoding(geocoder.Address{City: req.Name, Country: req.Country})
	if err != nil {
		return nil, errors.New("failed to geocode city: " + err.Error())
	}
	return &weather.Coordinates{Lat: loc.Latitude, Lon: loc.Longitude}, nil
}
