package h02

import (
	"encoding/hex"
	"fmt"

	"tracklink/decoder/internal/protocol"
)

// Status expands the four status bytes of a V1/V2 report. Field names
// follow the H02 vendor documentation; a set bit means the condition is
// active. Bits 19 and 20 are reserved.
type Status struct {
	// byte 1
	TemperatureAlarm           bool `json:"temperature_alarm"`
	ThreeTimesPassErrorAlarm   bool `json:"three_times_pass_error_alarm"`
	GPRSOcclusionAlarm         bool `json:"gprs_occlusion_alarm"`
	OilAndEngineCutOff         bool `json:"oil_and_engine_cut_off"`
	StorageBatteryRemovalState bool `json:"storage_battery_removal_state"`
	HighLevelSensor1           bool `json:"high_level_sensor1"`
	HighLevelSensor2           bool `json:"high_level_sensor2"`
	LowLevelSensor1BondStrap   bool `json:"low_level_sensor1_bond_strap"`

	// byte 2
	GPSReceiverFaultAlarm         bool `json:"gps_receiver_fault_alarm"`
	AnalogQuantityTransfinitAlarm bool `json:"analog_quantity_transfinit_alarm"`
	SOSAlarm                      bool `json:"sos_alarm"`
	HostPoweredByBackupBattery    bool `json:"host_powered_by_backup_battery"`
	StorageBatteryRemoved         bool `json:"storage_battery_removed"`
	OpenCircuitForGPSAntenna      bool `json:"open_circuit_for_gps_antenna"`
	ShortCircuitForGPSAntenna     bool `json:"short_circuit_for_gps_antenna"`
	LowLevelSensor2BondStrap      bool `json:"low_level_sensor2_bond_strap"`

	// byte 3
	DoorOpen         bool `json:"door_open"`
	VehicleFortified bool `json:"vehicle_fortified"`
	ACC              bool `json:"acc"`
	Engine           bool `json:"engine"`
	CustomAlarm      bool `json:"custom_alarm"`
	Overspeed        bool `json:"overspeed"`

	// byte 4
	TheftAlarm                  bool `json:"theft_alarm"`
	RobberyAlarm                bool `json:"roberry_alarm"`
	OverspeedAlarm              bool `json:"overspeed_alarm"`
	IllegalIgnitionAlarm        bool `json:"illegal_ignition_alarm"`
	NoEntryCrossBorderAlarmIn   bool `json:"no_entry_cross_border_alarm_in"`
	GPSAntennaOpenCircuitAlarm  bool `json:"gps_antenna_open_circuit_alarm"`
	GPSAntennaShortCircuitAlarm bool `json:"gps_antenna_short_circuit_alarm"`
	NoEntryCrossBorderAlarmOut  bool `json:"no_entry_cross_border_alarm_out"`
}

func parseStatus(field string) (Status, error) {
	raw, err := hex.DecodeString(field)
	if err != nil {
		return Status{}, fmt.Errorf("%w: status bytes %q", protocol.ErrMalformedField, field)
	}
	if len(raw) < 4 {
		return Status{}, fmt.Errorf("%w: status field has %d bytes, need 4",
			protocol.ErrMalformedField, len(raw))
	}

	// bit i counts from the most significant bit of the first byte
	b := func(i int) bool { return raw[i/8]&(0x80>>(i%8)) != 0 }

	return Status{
		TemperatureAlarm:           b(0),
		ThreeTimesPassErrorAlarm:   b(1),
		GPRSOcclusionAlarm:         b(2),
		OilAndEngineCutOff:         b(3),
		StorageBatteryRemovalState: b(4),
		HighLevelSensor1:           b(5),
		HighLevelSensor2:           b(6),
		LowLevelSensor1BondStrap:   b(7),

		GPSReceiverFaultAlarm:         b(8),
		AnalogQuantityTransfinitAlarm: b(9),
		SOSAlarm:                      b(10),
		HostPoweredByBackupBattery:    b(11),
		StorageBatteryRemoved:         b(12),
		OpenCircuitForGPSAntenna:      b(13),
		ShortCircuitForGPSAntenna:     b(14),
		LowLevelSensor2BondStrap:      b(15),

		DoorOpen:         b(16),
		VehicleFortified: b(17),
		ACC:              b(18),
		Engine:           b(21),
		CustomAlarm:      b(22),
		Overspeed:        b(23),

		TheftAlarm:                  b(24),
		RobberyAlarm:                b(25),
		OverspeedAlarm:              b(26),
		IllegalIgnitionAlarm:        b(27),
		NoEntryCrossBorderAlarmIn:   b(28),
		GPSAntennaOpenCircuitAlarm:  b(29),
		GPSAntennaShortCircuitAlarm: b(30),
		NoEntryCrossBorderAlarmOut:  b(31),
	}, nil
}
