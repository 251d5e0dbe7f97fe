package protocol

// Error codes returned in ErrorShape.Code.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrUnauthorized   = "UNAUTHORIZED"
	ErrNotFound       = "NOT_FOUND"
	ErrUnsupported    = "UNSUPPORTED"
	ErrDeviceBusy     = "DEVICE_BUSY"
	ErrDeviceFailure  = "DEVICE_FAILURE"
	ErrInternal       = "INTERNAL"
)
