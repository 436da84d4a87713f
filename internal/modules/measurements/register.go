package measurements

import (
	"net/http"

	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/controller"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/repository"
)

// RegisterFeature mounts the measurement REST routes. live may be nil.
func RegisterFeature(mux *http.ServeMux, repo *repository.Repository, live controller.LiveReader) {
	measurementController := controller.NewMeasurementController(repo.Houses, repo.Pipes, repo.Sources, live)
	measurementController.RegisterRoutes(mux)
}
