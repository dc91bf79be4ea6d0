package dht22

// Pulse is one bit slot: how long the line stayed low, then high (µs).
type Pulse struct {
	Low  uint8
	High uint8
}

// Reading is a validated frame: humidity int/dec, temperature int (top bit is
// the sign) and temperature dec. Readings only come from Decode.
type Reading struct {
	b [4]byte
}

// Decode packs 40 pulse pairs into 5 bytes, MSB first, and validates the
// checksum. A bit is 1 when its high pulse outlasts its low pulse; both
// durations carry the same sampling overhead so only their order matters.
func Decode(p [bitCount]Pulse) (Reading, error) {
	var frame [frameBytes]byte
	for i := range frame {
		var v byte
		for _, pp := range p[i*8 : i*8+8] {
			v <<= 1
			if pp.High > pp.Low {
				v |= 1
			}
		}
		frame[i] = v
	}

	sum := frame[0] + frame[1] + frame[2] + frame[3] // wraps mod 256
	if sum != frame[4] {
		return Reading{}, checksumError(sum, frame[4])
	}
	return Reading{b: [4]byte{frame[0], frame[1], frame[2], frame[3]}}, nil
}

// Bytes returns the four data bytes in wire order.
func (r Reading) Bytes() [4]byte { return r.b }

// HumidityDeci returns relative humidity in tenths of a percent.
func (r Reading) HumidityDeci() uint16 {
	return uint16(r.b[0])<<8 | uint16(r.b[1])
}

// HumidityX100 returns relative humidity in hundredths of a percent,
// saturating at 0xFFFF for out-of-range frames.
func (r Reading) HumidityX100() uint16 {
	v := uint32(r.HumidityDeci()) * 10
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

// TempDeciC returns the temperature in tenths of a degree Celsius. The wire
// format is sign-magnitude, not two's complement.
func (r Reading) TempDeciC() int16 {
	mag := int16(r.b[2]&0x7F)<<8 | int16(r.b[3])
	if r.b[2]&0x80 != 0 {
		return -mag
	}
	return mag
}

// HumidityPercent returns relative humidity in percent.
func (r Reading) HumidityPercent() float32 {
	return float32(r.HumidityDeci()) / 10
}

// TempCelsius returns the temperature in degrees Celsius.
func (r Reading) TempCelsius() float32 {
	return float32(r.TempDeciC()) / 10
}

// TempFahrenheit returns TempCelsius()*1.8 + 32.
func (r Reading) TempFahrenheit() float32 {
	return r.TempCelsius()*1.8 + 32
}
