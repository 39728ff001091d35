package protocol

import "fmt"

// Tag identifies the content of one telemetry message.
type Tag uint8

// Message tags shared by the flight controllers and the ground tooling.
const (
	TagFrame                 Tag = 0x01
	TagSourceID              Tag = 0x02
	TagSequence              Tag = 0x03
	TagLogSuffix             Tag = 0x04
	TagJumpToBoot            Tag = 0x05
	TagSoftwareVersion       Tag = 0x10
	TagTimeEpoch             Tag = 0x11
	TagTimeLocal             Tag = 0x12
	TagInstrumentation       Tag = 0x13
	TagTimer                 Tag = 0x15
	TagPilotCmdAck           Tag = 0x20
	TagVehicleArmed          Tag = 0x21
	TagPilotCommand          Tag = 0x22
	TagSbusAck               Tag = 0x23
	TagVotingStatus          Tag = 0x24
	TagStreamStatus          Tag = 0x25
	TagMarkerButton          Tag = 0x26
	TagInternalStates        Tag = 0x2A
	TagAngularRates          Tag = 0x30
	TagAttitudeQuat          Tag = 0x31
	TagRatesSetpoint         Tag = 0x32
	TagAttitudeEuler         Tag = 0x33
	TagAttitudeEulerSetpoint Tag = 0x34
	TagPositionNED           Tag = 0x35
	TagActuatorCmd           Tag = 0x40
	TagOdometry              Tag = 0x42
	TagUBX                   Tag = 0x50
	TagNMEA                  Tag = 0x51
	TagGeiger                Tag = 0x52
	TagCurrent               Tag = 0x53
	TagVoltage               Tag = 0x54
	TagTemperature           Tag = 0x55
	TagAHRS                  Tag = 0x5F
	TagIMU                   Tag = 0x60
	TagDeviceSense           Tag = 0x61
	TagGeofence              Tag = 0x65
	TagSimLinkForceTorque    Tag = 0x70
	TagSimActuatorTorque     Tag = 0x71
	TagSimActuatorVelCmd     Tag = 0x72
	TagSimState              Tag = 0x73
	TagSimLink               Tag = 0x78
	TagSimJoint              Tag = 0x79
	TagDebugValues           Tag = 0x7A
)

// Format version markers carried in the first SEQUENCE payload byte.
const (
	Version02 uint8 = 0x44
	Version03 uint8 = 0x45
)

var tagNames = map[Tag]string{
	TagFrame:                 "FRAME",
	TagSourceID:              "SOURCE_ID",
	TagSequence:              "SEQUENCE",
	TagLogSuffix:             "LOG_SUFFIX",
	TagJumpToBoot:            "JUMP_TO_BOOT",
	TagSoftwareVersion:       "SOFTWARE_VERSION",
	TagTimeEpoch:             "TIME_EPOCH",
	TagTimeLocal:             "TIME_LOCAL",
	TagInstrumentation:       "INSTRUMENTATION",
	TagTimer:                 "TIMER",
	TagPilotCmdAck:           "PILOT_CMD_ACK",
	TagVehicleArmed:          "VEHICLE_ARMED",
	TagPilotCommand:          "PILOT_COMMAND",
	TagSbusAck:               "SBUS_ACK",
	TagVotingStatus:          "VOTING_STATUS",
	TagStreamStatus:          "STREAM_STATUS",
	TagMarkerButton:          "TELEMETRY_MARKER_BUTTON",
	TagInternalStates:        "INTERNAL_STATES",
	TagAngularRates:          "ANGULAR_RATES",
	TagAttitudeQuat:          "ATTITUDE_QUAT",
	TagRatesSetpoint:         "RATES_SETPOINT",
	TagAttitudeEuler:         "ATTITUDE_EULER",
	TagAttitudeEulerSetpoint: "ATTITUDE_EULER_SETPOINT",
	TagPositionNED:           "POSITION_NED",
	TagActuatorCmd:           "ACTUATOR_CMD",
	TagOdometry:              "ODOMETRY",
	TagUBX:                   "UBX",
	TagNMEA:                  "NMEA",
	TagGeiger:                "GEIGER",
	TagCurrent:               "CURRENT",
	TagVoltage:               "VOLTAGE",
	TagTemperature:           "TEMPERATURE",
	TagAHRS:                  "AHRS",
	TagIMU:                   "IMU",
	TagDeviceSense:           "DEVICE_SENSE",
	TagGeofence:              "GEOFENCE",
	TagSimLinkForceTorque:    "SIM_LINK_FORCE_TORQUE",
	TagSimActuatorTorque:     "SIM_ACTUATOR_TORQUE",
	TagSimActuatorVelCmd:     "SIM_ACTUATOR_VEL_CMD",
	TagSimState:              "SIM_STATE",
	TagSimLink:               "SIM_LINK",
	TagSimJoint:              "SIM_JOINT",
	TagDebugValues:           "DEBUG_VALUES",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TAG_%#02x", uint8(t))
}
