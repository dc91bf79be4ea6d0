package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: node id (DHTD_NODE on hosts)
// Val: raw YAML for that node
// -----------------------------------------------------------------------------

const cfgRPiDHT = `
hal:
  devices:
    - id: probe
      type: dht22
      params:
        pin: 4
        name: probe
        min_interval_ms: 2000
        retries: 2
    - id: activity
      type: gpio_led
      params:
        pin: 17
        name: activity
    - id: read_now
      type: gpio_button
      params:
        pin: 27
        pull: up
        invert: true
        name: read_now
  pollers:
    - domain: env
      kind: temperature
      name: probe
      verb: read
      interval_ms: 10000
      jitter_ms: 500
reporter:
  author: rpi-dht
  sensor: probe
  message: greenhouse
  led: activity
  button: read_now
`

var embeddedConfigs = map[string][]byte{
	"rpi-dht": []byte(cfgRPiDHT),
}
