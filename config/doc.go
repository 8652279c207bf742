// Package config loads and validates the gateway configuration.
//
// # Core Components
//
// Config: the typed configuration. It holds the publisher tuning
// (gateway), the reconnect schedule (backoff), the broker connection
// (broker), the administrative listener (admin), component log levels
// (log_levels) and the photometer list (devices).
//
// Loader: decodes one or more YAML layers onto Defaults(), then applies
// environment overrides. Unknown keys are rejected.
//
// SafeConfig: thread-safe holder for the configuration that is replaced
// on reload.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddEnvFile(".env")
//	loader.AddLayer("/etc/photgw/photgw.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//	    return err // always a configuration error
//	}
//
// # Configuration Structure
//
//	gateway:
//	  topic_root: STARS4ALL
//	  register_topic: STARS4ALL/register
//	  retry_buffer: 16
//	  ack_timeout: 10s
//	  register_repeat: 5s
//	  stats_interval: 30m
//	backoff:
//	  initial_delay: 1s
//	  max_delay: 60s
//	  multiplier: 2
//	broker:
//	  kind: mqtt          # mqtt, nats or kafka
//	  transport: tcp      # tcp, ssl/tls, ws or wss
//	  host: localhost
//	admin:
//	  listen: 127.0.0.1
//	  port: 8080
//	log_levels:
//	  publisher: info
//	devices:
//	  - name: stars1
//	    mac: AA:BB:CC:DD:EE:01
//	    endpoint: serial:/dev/ttyUSB0:9600
//	    model: tessw
//	    period: 60
//	    calibration:
//	      - {channel: 1, zp: 20.5, offset: 0}
//
// # Environment Overrides
//
// PHOTGW_BROKER_KIND, PHOTGW_BROKER_TRANSPORT, PHOTGW_BROKER_HOST,
// PHOTGW_BROKER_PORT, PHOTGW_BROKER_USERNAME, PHOTGW_BROKER_PASSWORD,
// PHOTGW_BROKER_CLIENT_ID, PHOTGW_BROKER_QOS, PHOTGW_BROKER_STREAM,
// PHOTGW_BROKER_BROKERS (comma separated), PHOTGW_REGISTER_TOPIC,
// PHOTGW_ADMIN_LISTEN and PHOTGW_ADMIN_PORT. The MQTT_* and ADMIN_HTTP_*
// names of earlier deployments are read when the PHOTGW_ names are unset.
package config
