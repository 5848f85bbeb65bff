package handler

type createGroupRequest struct {
	Name       string `json:"name"`
	Generator  string `json:"generator"`
	TTLMinutes int    `json:"ttl_minutes"`
	HasFact    bool   `json:"has_fact"`
}

type generateKeyRequest struct {
	Fact          string   `json:"fact,omitempty"`
	ClaimedBy     string   `json:"claimed_by,omitempty"`
	GeneratorArgs []string `json:"generator_args,omitempty"`
}

type claimRequest struct {
	Token string `json:"token"`
}

type purgeResponse struct {
	Removed int64 `json:"removed"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
