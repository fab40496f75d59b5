package apiv1

// Pong is the liveness response.
type Pong struct {
	Ping string `json:"ping"`
}
