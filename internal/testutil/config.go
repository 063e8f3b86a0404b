package testutil

import "detectedits-go/internal/config"

// Config returns a valid config rooted at baseDir whose watermark store,
// transport and run history all live in memory.
func Config(baseDir string) *config.Config {
	cfg := config.NewConfig(baseDir)
	cfg.Service.FSURL = "https://services.example.com/arcgis/rest/services/Incidents/FeatureServer/"
	cfg.Service.FSLayerNum = "0"
	cfg.Service.PortalURL = "http://portal.example.com"
	cfg.Service.ServiceUser = "gisuser"
	cfg.Service.ServicePW = "pw"
	cfg.Service.Referer = "10.0.0.5"
	cfg.Email.Recipients = []string{"ops@example.com"}
	cfg.Email.From = "gis@example.com"
	cfg.Watermark.Type = "memory"
	cfg.Transport.Type = "memory"
	cfg.Database.Type = "memory"
	return cfg
}
