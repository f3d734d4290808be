//go:build linux

package rtc

import (
	// Register V4L2 camera and malgo microphone drivers with mediadevices.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)
