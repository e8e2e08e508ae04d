package observatory

import (
	"strconv"
	"strings"
)

// EntityType is the semantic entity class a telemetry attribute maps to on
// the bus discovery layer
type EntityType string

// Discovery entity types
const (
	EntitySensor       EntityType = "sensor"
	EntityBinarySensor EntityType = "binary_sensor"
	EntitySwitch       EntityType = "switch"
	EntityCamera       EntityType = "camera"
)

// Units of measurement used in attribute schemas
const (
	UnitArcsecPerSec = "\"/s"
	UnitDegree       = "°"
	UnitDegreePerSec = "°/s"
	UnitMeter        = "m"
	UnitMicrometer   = "µm"
	UnitMillimeter   = "mm"
	UnitPercent      = "%"
	UnitSeconds      = "s"
	UnitCelsius      = "°C"
)

// Icons per component kind
const (
	iconTelescope     = "mdi:telescope"
	iconCamera        = "mdi:camera"
	iconFocuser       = "mdi:focus-auto"
	iconSwitch        = "mdi:hubspot"
	iconFilterWheel   = "mdi:image-filter-black-white"
	iconDome          = "mdi:greenhouse"
	iconRotator       = "mdi:rotate-360"
	iconSafetyMonitor = "mdi:seatbelt"
)

// Attribute describes one entry of a component kind's fixed schema.
// Name is the snake_case telemetry attribute, Source the device API
// attribute (or FITS header keyword for camera_file components).
type Attribute struct {
	Name        string
	Label       string
	Source      string
	Type        EntityType
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
}

const measurement = "measurement"

var schemas = map[Kind][]Attribute{
	KindTelescope: {
		{Name: "at_home", Label: "At home", Source: "athome", Type: EntityBinarySensor, Icon: iconTelescope},
		{Name: "at_park", Label: "At park", Source: "atpark", Type: EntityBinarySensor, Icon: iconTelescope},
		{Name: "altitude", Label: "Altitude", Source: "altitude", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconTelescope},
		{Name: "azimuth", Label: "Azimuth", Source: "azimuth", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconTelescope},
		{Name: "declination", Label: "Declination", Source: "declination", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconTelescope},
		{Name: "declination_rate", Label: "Declination rate", Source: "declinationrate", Type: EntitySensor, Unit: UnitArcsecPerSec, StateClass: measurement, Icon: iconTelescope},
		{Name: "guiderate_declination", Label: "Guiderate declination", Source: "guideratedeclination", Type: EntitySensor, Unit: UnitDegreePerSec, StateClass: measurement, Icon: iconTelescope},
		{Name: "right_ascension", Label: "Right ascension", Source: "rightascension", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconTelescope},
		{Name: "right_ascension_rate", Label: "Right ascension rate", Source: "rightascensionrate", Type: EntitySensor, Unit: UnitArcsecPerSec, StateClass: measurement, Icon: iconTelescope},
		{Name: "guiderate_right_ascension", Label: "Guiderate right ascension", Source: "guideraterightascension", Type: EntitySensor, Unit: UnitDegreePerSec, StateClass: measurement, Icon: iconTelescope},
		{Name: "side_of_pier", Label: "Side of pier", Source: "sideofpier", Type: EntitySensor, Icon: iconTelescope},
		{Name: "site_elevation", Label: "Site elevation", Source: "siteelevation", Type: EntitySensor, Unit: UnitMeter, DeviceClass: "distance", StateClass: measurement, Icon: iconTelescope},
		{Name: "site_latitude", Label: "Site latitude", Source: "sitelatitude", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconTelescope},
		{Name: "site_longitude", Label: "Site longitude", Source: "sitelongitude", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconTelescope},
		{Name: "slewing", Label: "Slewing", Source: "slewing", Type: EntityBinarySensor, Icon: iconTelescope},
	},
	KindCamera: {
		{Name: "camera_state", Label: "Camera state", Source: "camerastate", Type: EntitySensor, Icon: iconCamera},
		{Name: "ccd_temperature", Label: "CCD temperature", Source: "ccdtemperature", Type: EntitySensor, Unit: UnitCelsius, DeviceClass: "temperature", StateClass: measurement, Icon: iconCamera},
		{Name: "cooler_on", Label: "Cooler on", Source: "cooleron", Type: EntityBinarySensor, Icon: iconCamera},
		{Name: "cooler_power", Label: "Cooler power", Source: "coolerpower", Type: EntitySensor, StateClass: measurement, Icon: iconCamera},
		{Name: "image_ready", Label: "Image ready", Source: "imageready", Type: EntityBinarySensor, Icon: iconCamera},
		{Name: "last_exposure_duration", Label: "Last exposure duration", Source: "lastexposureduration", Type: EntitySensor, Unit: UnitSeconds, DeviceClass: "duration", StateClass: measurement, Icon: iconCamera},
		{Name: "last_exposure_start_time", Label: "Last exposure start time", Source: "lastexposurestarttime", Type: EntitySensor, DeviceClass: "timestamp", Icon: iconCamera},
		{Name: "percent_completed", Label: "Percent completed", Source: "percentcompleted", Type: EntitySensor, Unit: UnitPercent, StateClass: measurement, Icon: iconCamera},
		{Name: "readout_mode", Label: "Readout mode", Source: "readoutmode", Type: EntitySensor, Icon: iconCamera},
		{Name: "sensor_type", Label: "Sensor type", Source: "sensortype", Type: EntitySensor, Icon: iconCamera},
	},
	KindCameraFile: {
		{Name: "image_type", Label: "Image type", Source: "IMAGETYP", Type: EntitySensor, Icon: iconCamera},
		{Name: "exposure_duration", Label: "Exposure duration", Source: "EXPOSURE", Type: EntitySensor, Unit: UnitSeconds, DeviceClass: "duration", StateClass: measurement, Icon: iconCamera},
		{Name: "time_of_observation", Label: "Time of observation", Source: "DATE-OBS", Type: EntitySensor, DeviceClass: "timestamp", Icon: iconCamera},
		{Name: "x_axis_binning", Label: "X axis binning", Source: "XBINNING", Type: EntitySensor, StateClass: measurement, Icon: iconCamera},
		{Name: "y_axis_binning", Label: "Y axis binning", Source: "YBINNING", Type: EntitySensor, StateClass: measurement, Icon: iconCamera},
		{Name: "gain", Label: "Gain", Source: "GAIN", Type: EntitySensor, StateClass: measurement, Icon: iconCamera},
		{Name: "offset", Label: "Offset", Source: "OFFSET", Type: EntitySensor, StateClass: measurement, Icon: iconCamera},
		{Name: "pixel_x_axis_size", Label: "Pixel X axis size", Source: "XPIXSZ", Type: EntitySensor, Unit: UnitMicrometer, Icon: iconCamera},
		{Name: "pixel_y_axis_size", Label: "Pixel Y axis size", Source: "YPIXSZ", Type: EntitySensor, Unit: UnitMicrometer, Icon: iconCamera},
		{Name: "imaging_instrument", Label: "Imaging instrument", Source: "INSTRUME", Type: EntitySensor, Icon: iconCamera},
		{Name: "ccd_temperature", Label: "CCD temperature", Source: "CCD-TEMP", Type: EntitySensor, Unit: UnitCelsius, DeviceClass: "temperature", StateClass: measurement, Icon: iconCamera},
		{Name: "filter", Label: "Filter", Source: "FILTER", Type: EntitySensor, Icon: iconCamera},
		{Name: "sensor_readout_mode", Label: "Sensor readout mode", Source: "READOUTM", Type: EntitySensor, Icon: iconCamera},
		{Name: "sensor_bayer_pattern", Label: "Sensor Bayer pattern", Source: "BAYERPAT", Type: EntitySensor, Icon: iconCamera},
		{Name: "telescope", Label: "Telescope", Source: "TELESCOP", Type: EntitySensor, Icon: iconCamera},
		{Name: "focal_length", Label: "Focal length", Source: "FOCALLEN", Type: EntitySensor, Unit: UnitMillimeter, DeviceClass: "distance", StateClass: measurement, Icon: iconCamera},
		{Name: "ra_of_telescope", Label: "RA of telescope", Source: "RA", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconCamera},
		{Name: "declination_of_telescope", Label: "Declination of telescope", Source: "DEC", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconCamera},
		{Name: "altitude_of_telescope", Label: "Altitude of telescope", Source: "CENTALT", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconCamera},
		{Name: "azimuth_of_telescope", Label: "Azimuth of telescope", Source: "CENTAZ", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconCamera},
		{Name: "object_of_interest", Label: "Object of interest", Source: "OBJECT", Type: EntitySensor, Icon: iconCamera},
		{Name: "ra_of_imaged_object", Label: "RA of imaged object", Source: "OBJCTRA", Type: EntitySensor, Icon: iconCamera},
		{Name: "declination_of_imaged_object", Label: "Declination of imaged object", Source: "OBJCTDEC", Type: EntitySensor, Icon: iconCamera},
		{Name: "rotation_of_imaged_object", Label: "Rotation of imaged object", Source: "OBJCTROT", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconCamera},
		{Name: "software", Label: "Software", Source: "SWCREATE", Type: EntitySensor, Icon: iconCamera},
	},
	KindFocuser: {
		{Name: "position", Label: "Position", Source: "position", Type: EntitySensor, StateClass: measurement, Icon: iconFocuser},
		{Name: "is_moving", Label: "Is moving", Source: "ismoving", Type: EntityBinarySensor, Icon: iconFocuser},
	},
	KindFilterWheel: {
		{Name: "names", Label: "Names", Source: "names", Type: EntitySensor, Icon: iconFilterWheel},
		{Name: "position", Label: "Position", Source: "position", Type: EntitySensor, Icon: iconFilterWheel},
		{Name: "current", Label: "Current", Source: "", Type: EntitySensor, Icon: iconFilterWheel},
	},
	KindDome: {
		{Name: "at_home", Label: "At home", Source: "athome", Type: EntityBinarySensor, Icon: iconDome},
		{Name: "at_park", Label: "At park", Source: "atpark", Type: EntityBinarySensor, Icon: iconDome},
		{Name: "altitude", Label: "Altitude", Source: "altitude", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconDome},
		{Name: "azimuth", Label: "Azimuth", Source: "azimuth", Type: EntitySensor, Unit: UnitDegree, StateClass: measurement, Icon: iconDome},
		{Name: "shutter_status", Label: "Shutter status", Source: "shutterstatus", Type: EntityBinarySensor, Icon: iconDome},
	},
	KindRotator: {
		{Name: "mechanical_position", Label: "Mechanical position", Source: "mechanicalposition", Type: EntitySensor, StateClass: measurement, Icon: iconRotator},
		{Name: "position", Label: "Position", Source: "position", Type: EntitySensor, StateClass: measurement, Icon: iconRotator},
	},
	KindSwitch: {
		{Name: "max_switch", Label: "Max switch", Source: "maxswitch", Type: EntitySensor, StateClass: measurement, Icon: iconSwitch},
	},
	KindSafetyMonitor: {
		{Name: "is_safe", Label: "Is safe", Source: "issafe", Type: EntityBinarySensor, Icon: iconSafetyMonitor},
	},
}

// Schema returns the fixed attribute schema for a component kind
func Schema(kind Kind) []Attribute {
	return schemas[kind]
}

// SwitchPortAttribute returns the schema entry for a dynamically discovered
// switch port. Ports are not part of the fixed schema because their count is
// only known after the first read of max_switch.
func SwitchPortAttribute(id int) Attribute {
	return Attribute{
		Name:        switchPortName(id),
		Label:       "Switch " + strconv.Itoa(id),
		Source:      "getswitch",
		Type:        EntitySwitch,
		DeviceClass: "switch",
		Icon:        iconSwitch,
	}
}

// SwitchValueAttribute returns the schema entry for a switch port's
// analog value reading
func SwitchValueAttribute(id int) Attribute {
	return Attribute{
		Name:       "switch_value_" + strconv.Itoa(id),
		Label:      "Switch value " + strconv.Itoa(id),
		Source:     "getswitchvalue",
		Type:       EntitySensor,
		StateClass: measurement,
		Icon:       iconSwitch,
	}
}

func switchPortName(id int) string {
	return "switch_" + strconv.Itoa(id)
}

// DynamicSwitchAttribute resolves an attribute name of the form switch_N or
// switch_value_N back to its schema entry. Any other name reports false.
func DynamicSwitchAttribute(name string) (Attribute, bool) {
	if id, ok := strings.CutPrefix(name, "switch_value_"); ok {
		if n, err := strconv.Atoi(id); err == nil && n >= 0 {
			return SwitchValueAttribute(n), true
		}
		return Attribute{}, false
	}
	if id, ok := strings.CutPrefix(name, "switch_"); ok {
		if n, err := strconv.Atoi(id); err == nil && n >= 0 {
			return SwitchPortAttribute(n), true
		}
	}
	return Attribute{}, false
}

// CameraStates maps the numeric Alpaca camera state to its display name
var CameraStates = []string{
	"Camera idle",
	"Camera waiting",
	"Camera exposing",
	"Camera reading",
	"Camera download",
	"Camera error",
}

// CameraSensorTypes maps the numeric Alpaca sensor type to its display name
var CameraSensorTypes = []string{
	"Monochrome",
	"Colour not requiring Bayer decoding",
	"RGGB Bayer encoding",
	"CMYG Bayer encoding",
	"CMYG2 Bayer encoding",
	"LRGB TRUESENSE Bayer encoding",
}

// permittedCommands is the fixed set of operator commands per component kind
var permittedCommands = map[Kind][]string{
	KindTelescope:   {"slew", "park", "unpark"},
	KindFocuser:     {"move"},
	KindFilterWheel: {"setposition"},
	KindSwitch:      {"on", "off"},
}

// CommandPermitted reports whether a command is in the permitted set for a kind
func CommandPermitted(kind Kind, command string) bool {
	for _, c := range permittedCommands[kind] {
		if c == command {
			return true
		}
	}
	return false
}
