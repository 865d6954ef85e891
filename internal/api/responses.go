package api

type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"`
}

// InsufficientCreditsResponse carries the exact shortfall so the client
// can prompt the user to top up.
type InsufficientCreditsResponse struct {
	Error     string `json:"error" example:"insufficient credits"`
	Required  int64  `json:"required" example:"10"`
	Available int64  `json:"available" example:"3"`
}

type MessageResponse struct {
	Message string `json:"message" example:"ok"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
