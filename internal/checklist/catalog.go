// Package checklist holds the fixed inspection criteria per device category.
package checklist

import (
	"fmt"

	"refurbline/internal/domain"
)

// Item is one catalog line. Index is 1-based and stable.
type Item struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

var catalog = map[domain.Category][]string{
	domain.CategoryLaptop: {
		"Chassis free of cracks and missing screws",
		"Powers on and completes POST",
		"Display free of dead pixels, lines and backlight bleed",
		"Keyboard: all keys register",
		"Touchpad and buttons respond",
		"Hinges hold lid at any angle",
		"Ports (USB, video, audio) functional",
		"Battery health at or above 70% design capacity",
		"Charger port and AC adapter functional",
		"Wi-Fi and Bluetooth detected",
		"Webcam and microphone functional",
		"Storage passes SMART check",
		"BIOS unlocked, no supervisor password",
	},
	domain.CategoryDesktop: {
		"Chassis free of cracks and missing screws",
		"Powers on and completes POST",
		"Front panel ports functional",
		"Rear I/O ports functional",
		"Fans spin without noise",
		"Storage passes SMART check",
		"Memory passes quick test",
		"Optical drive ejects and reads (if fitted)",
		"BIOS unlocked, no supervisor password",
	},
	domain.CategoryWorkstation: {
		"Chassis free of cracks and missing screws",
		"Powers on and completes POST",
		"Discrete GPU detected with correct memory",
		"ECC memory passes quick test",
		"All drive bays detected",
		"Fans spin without noise",
		"Rear I/O ports functional",
		"BIOS unlocked, no supervisor password",
	},
	domain.CategoryServer: {
		"Chassis and rails complete",
		"Both PSUs power the system",
		"BMC reachable and reset to defaults",
		"All DIMM slots populated as listed",
		"RAID controller healthy, no foreign config",
		"All drive caddies present",
		"Fans report nominal speeds",
		"Front panel LEDs show no faults",
	},
	domain.CategoryMonitor: {
		"Bezel and stand free of cracks",
		"Powers on",
		"Panel free of dead pixels and lines",
		"No burn-in or backlight bleed",
		"All video inputs functional",
		"OSD buttons respond",
	},
	domain.CategoryAllInOne: {
		"Chassis free of cracks and missing screws",
		"Powers on and completes POST",
		"Display free of dead pixels, lines and backlight bleed",
		"Touch layer responds (if fitted)",
		"Ports functional",
		"Webcam and microphone functional",
		"Storage passes SMART check",
		"BIOS unlocked, no supervisor password",
	},
	domain.CategoryTablet: {
		"Housing free of cracks and bends",
		"Powers on and boots",
		"Screen free of cracks and dead pixels",
		"Touch responds across full surface",
		"Battery health at or above 70% design capacity",
		"Charging port functional",
		"Cameras functional",
		"Activation / MDM lock removed",
	},
}

// For returns the ordered checklist for a category.
func For(category domain.Category) ([]Item, error) {
	lines, ok := catalog[category]
	if !ok {
		return nil, fmt.Errorf("no checklist for category %q", category)
	}
	items := make([]Item, len(lines))
	for i, text := range lines {
		items[i] = Item{Index: i + 1, Text: text}
	}
	return items, nil
}

// Lookup returns the catalog text for one index.
func Lookup(category domain.Category, index int) (Item, bool) {
	lines, ok := catalog[category]
	if !ok || index < 1 || index > len(lines) {
		return Item{}, false
	}
	return Item{Index: index, Text: lines[index-1]}, true
}
