package dht22

import "tinygo.org/x/drivers"

var _ drivers.Sensor = (*Device)(nil)

// Update runs one Read when temperature or humidity is requested and caches
// the result for Temperature and Humidity. A failed read leaves the previous
// values in place and returns the error.
func (d *Device) Update(which drivers.Measurement) error {
	if which&(drivers.Temperature|drivers.Humidity) == 0 {
		return ErrUnsupportedMeasurement
	}
	r, err := d.Read()
	if err != nil {
		return err
	}
	d.last = r
	d.hasLast = true
	return nil
}

// Temperature returns the last updated temperature in milli-degrees Celsius.
func (d *Device) Temperature() int32 {
	return int32(d.last.TempDeciC()) * 100
}

// Humidity returns the last updated relative humidity in hundredths of a
// percent.
func (d *Device) Humidity() int32 {
	return int32(d.last.HumidityDeci()) * 10
}

// Last returns the last Reading stored by Update.
func (d *Device) Last() (Reading, bool) { return d.last, d.hasLast }
