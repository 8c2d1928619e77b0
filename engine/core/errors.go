package core

import (
	"errors"
)

var (
	ErrDeviceUnsupported    = errors.New("device does not support the required features")
	ErrDescriptorsExhausted = errors.New("descriptor heap exhausted")
	ErrStagingOverflow      = errors.New("transfer exceeds staging buffer capacity")
	ErrSceneInvalid         = errors.New("invalid scene data")
	ErrPresentFailed        = errors.New("failed to present")
	ErrDeviceLost           = errors.New("device lost")
	ErrSwapchainOutOfDate   = errors.New("swapchain out of date")
	ErrUnknown              = errors.New("unknown")
)
