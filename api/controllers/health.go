package controllers

import (
	"net/http"

	"github.com/angelmondragon/ordersync/api/responses"
	"github.com/angelmondragon/ordersync/pkg/config"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OrderSync-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}
