package types

// ------------------------
// Temperature & humidity
// ------------------------

type TemperatureInfo struct {
	Sensor string `json:"sensor"` // "dht22"
	Pin    int    `json:"pin"`
}

type HumidityInfo struct {
	Sensor string `json:"sensor"`
	Pin    int    `json:"pin"`
}

type TemperatureValue struct {
	// Tenths of °C (e.g. 231 => 23.1°C).
	DeciC int16 `json:"deci_c"`
}

type HumidityValue struct {
	// Hundredths of %RH as reported by the sensor (10000 is 100.00%).
	// Values are not clamped; a faulty frame can exceed 10000.
	RHx100 uint16 `json:"rh_x100"`
}

// ------------------------
// Reports (one line per paired reading)
// ------------------------

// Report is the record the reporter writes after each reading.
type Report struct {
	Author       string  `json:"author"`
	TemperatureC float32 `json:"temperature_c"`
	TemperatureF float32 `json:"temperature_f"`
	Humidity     float32 `json:"humidity"`
	Message      string  `json:"message"`
	TSms         int64   `json:"ts_ms"`
}

// ReporterConfig arrives on config/reporter.
type ReporterConfig struct {
	Author  string `json:"author" yaml:"author"`
	Sensor  string `json:"sensor" yaml:"sensor"`   // capability name under env
	Message string `json:"message" yaml:"message"` // free text copied to each report
	LED     string `json:"led" yaml:"led"`         // optional activity LED name under io
	Button  string `json:"button" yaml:"button"`   // optional read-now button name under io
}
