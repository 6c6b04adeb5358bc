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

// The structs below mirror smartctl's -j JSON schema, trimmed to the
// fields registration/check-engine primitives need. Field layout follows
// the teacher's smartctlstructs.go naming convention (one Go struct per
// JSON object, PascalCase field names, explicit json tags).

type smartctlScanOutput struct {
	Devices []smartctlScanDevice `json:"devices"`
}

type smartctlScanDevice struct {
	Name     string `json:"name"`
	InfoName string `json:"info_name"`
	Type     string `json:"type"`
	Protocol string `json:"protocol"`
}

type smartctlOutput struct {
	Device        smartctlDeviceBlock    `json:"device"`
	ModelName     string                 `json:"model_name"`
	SerialNumber  string                 `json:"serial_number"`
	FirmwareVer   string                 `json:"firmware_version"`
	RotationRate  int                    `json:"rotation_rate,omitempty"`
	SmartSupport  smartctlSmartSupport   `json:"smart_support"`
	SmartStatus   *smartctlSmartStatus   `json:"smart_status,omitempty"`
	Temperature   smartctlTemperature    `json:"temperature"`
	PowerOnTime   smartctlPowerOnTime    `json:"power_on_time"`
	ATASmartAttrs *smartctlATAAttributes `json:"ata_smart_attributes,omitempty"`
	ATAErrorLog   *smartctlATAErrorLog   `json:"ata_smart_error_log,omitempty"`
	ATASelfTest   *smartctlATASelfTest   `json:"ata_smart_self_test_log,omitempty"`
	SmartCtl      smartctlDetails        `json:"smartctl"`
}

type smartctlDeviceBlock struct {
	Name     string `json:"name"`
	InfoName string `json:"info_name"`
	Type     string `json:"type"`
	Protocol string `json:"protocol"`
}

type smartctlSmartSupport struct {
	Available bool `json:"available"`
	Enabled   bool `json:"enabled"`
}

type smartctlSmartStatus struct {
	Passed bool `json:"passed"`
}

type smartctlTemperature struct {
	Current   int `json:"current"`
	DriveTrip int `json:"drive_trip,omitempty"`
}

type smartctlPowerOnTime struct {
	Hours int `json:"hours"`
}

type smartctlATAAttributes struct {
	Table []smartctlATAAttributeEntry `json:"table"`
}

type smartctlATAAttributeEntry struct {
	ID     int                     `json:"id"`
	Name   string                  `json:"name"`
	Value  int                     `json:"value"`
	Worst  int                     `json:"worst"`
	Thresh int                     `json:"thresh"`
	Flags  smartctlATAAttributeFlg `json:"flags"`
	Raw    smartctlATAAttributeRaw `json:"raw"`
}

type smartctlATAAttributeFlg struct {
	Prefailure bool `json:"prefailure"`
}

type smartctlATAAttributeRaw struct {
	Value int64 `json:"value"`
}

type smartctlATAErrorLog struct {
	Summary smartctlATAErrorLogSummary `json:"summary"`
}

type smartctlATAErrorLogSummary struct {
	Count int `json:"count"`
}

type smartctlATASelfTest struct {
	Table []smartctlATASelfTestEntry `json:"table"`
	Count int                        `json:"count"`
}

type smartctlATASelfTestEntry struct {
	LifetimeHours int `json:"lifetime_hours"`
}

type smartctlDetails struct {
	ExitStatus int `json:"exit_status"`
}
