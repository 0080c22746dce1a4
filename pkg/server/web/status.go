package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dima-xd/mail-forwarder-to-tg/pkg/config"
	"github.com/dima-xd/mail-forwarder-to-tg/pkg/registry"
)

var startTime = time.Now()

type jsonStatus struct {
	Version       string `json:"version"`
	BuildDate     string `json:"build-date"`
	Mode          string `json:"mode"`
	Domain        string `json:"domain"`
	SMTPListener  string `json:"smtp-listener"`
	UptimeSeconds int64  `json:"uptime-seconds"`
	Bindings      int    `json:"bindings"`
}

// statusHandler renders process status as JSON.
func statusHandler(conf *config.Root, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status := jsonStatus{
			Version:       config.Version,
			BuildDate:     config.BuildDate,
			Mode:          conf.Mode,
			Domain:        conf.Domain,
			SMTPListener:  conf.SMTP.Addr,
			UptimeSeconds: int64(time.Since(startTime) / time.Second),
		}
		if reg != nil {
			status.Bindings = reg.Len()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&status); err != nil {
			log.Error().Str("module", "web").Err(err).Msg("Failed to encode status")
		}
	}
}
