package api

type createSessionRequest struct {
	Username string `json:"username" validate:"required"`
}

// Lat/Lng are pointers so an explicit 0 is distinguishable from a missing field.
type createRoomRequest struct {
	Name string   `json:"name" validate:"required"`
	Lat  *float64 `json:"lat" validate:"required"`
	Lng  *float64 `json:"lng" validate:"required"`
}

type nearbyQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lng float64 `validate:"gte=-180,lte=180"`
}

type deleteSessionResponse struct {
	Status string `json:"status"`
}
