package handler

const (
	errInternalServer = "Internal server error"
	errModelNotFound  = "Model not found"
)
