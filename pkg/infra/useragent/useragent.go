package useragent

import (
	"fmt"

	"github.com/avct/uasurfer"
)

// Info is a compact, human-readable summary of a raw User-Agent header.
type Info struct {
	Device  string `json:"device"`
	OS      string `json:"os"`
	Browser string `json:"browser"`
}

// Parse summarizes a raw User-Agent string. It returns nil for empty or
// unrecognizable input; callers treat that as "no device information".
func Parse(raw string) *Info {
	if raw == "" {
		return nil
	}
	ua := uasurfer.Parse(raw)

	device := "Unknown"
	switch ua.DeviceType {
	case uasurfer.DeviceComputer:
		device = "Computer"
	case uasurfer.DeviceTablet:
		device = "Tablet"
	case uasurfer.DevicePhone:
		device = "Phone"
	case uasurfer.DeviceConsole:
		device = "Console"
	case uasurfer.DeviceWearable:
		device = "Wearable"
	case uasurfer.DeviceTV:
		device = "TV"
	default:
		return nil
	}

	return &Info{
		Device:  device,
		OS:      fmt.Sprintf("%s %d.%d", ua.OS.Name.String(), ua.OS.Version.Major, ua.OS.Version.Minor),
		Browser: fmt.Sprintf("%s %d.%d", ua.Browser.Name.String(), ua.Browser.Version.Major, ua.Browser.Version.Minor),
	}
}
