package grpcserver

type GetIDRequest struct {
	Slug string `json:"slug"`
	Type string `json:"type"`
}

type GetIDResponse struct {
	UUID     string `json:"uuid"`
	Degraded bool   `json:"degraded,omitempty"`
}

type GetSlugRequest struct {
	ID string `json:"id"`
}

type GetSlugResponse struct {
	Slug     string `json:"slug"`
	Type     string `json:"type"`
	Degraded bool   `json:"degraded,omitempty"`
}

type BulkSyncRequest struct {
	Slugs []string `json:"slugs"`
	Type  string   `json:"type"`
}

type BulkSyncResponse struct {
	Mappings map[string]string `json:"mappings"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	CacheSize int    `json:"cache_size"`
	Timestamp string `json:"timestamp"`
}
