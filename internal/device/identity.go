// Copyright (C) 2024 Clyso GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package device

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Info is the normalized device identity notifier messages and
// Prometheus labels use, built from IdentifyInfo plus whatever OEM
// relationship can be inferred from the reported strings (ported from
// device_info_enhancer.go's enhanceDeviceInfo/detectOEMRelationship).
type Info struct {
	Path        string
	Model       string
	Serial      string
	Firmware    string
	ModelFamily string // e.g. "Dell Seagate Barracuda (Seagate OEM)", empty if no OEM pattern matched
}

var titleCaser = cases.Title(language.English)

// EnrichIdentity normalizes an IdentifyInfo into the labels used
// elsewhere, detecting common OEM rebranding the way the teacher's
// enhanceDeviceInfo does.
func EnrichIdentity(path string, ident IdentifyInfo) Info {
	info := Info{
		Path:     path,
		Model:    ident.Model,
		Serial:   ident.Serial,
		Firmware: ident.Firmware,
	}
	info.ModelFamily = detectOEMRelationship(ident.Model)
	return info
}

// detectOEMRelationship looks for known vendor-rebrand substrings inside
// the reported model string. Unlike the teacher's original (which also
// cross-checks a separate SCSI vendor/product pair), smartd only ever
// sees one model string per entry, so the three-field cross-check
// collapses to pattern matches against that single string.
func detectOEMRelationship(model string) string {
	lower := strings.ToLower(model)

	type pattern struct {
		needle string
		oem    string
	}
	patterns := []pattern{
		{"seagate", "Seagate OEM"},
		{"western digital", "WD OEM"},
		{"toshiba", "Toshiba OEM"},
		{"hgst", "HGST OEM"},
		{"samsung", "Samsung OEM"},
		{"intel", "Intel OEM"},
	}
	for _, p := range patterns {
		if strings.Contains(lower, p.needle) {
			return fmt.Sprintf("%s (%s)", titleCaser.String(lower), p.oem)
		}
	}
	return ""
}
