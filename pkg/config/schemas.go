package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// configSchema constrains the shape of config.yml. Every field is optional;
// missing values keep their defaults.
const configSchema = `
#Duration: =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Config: {
	environments?: [...string & !=""]

	paths?: {
		compose_file?: string
		local_env?:    string
		dist_env?:     string
		nginx_conf?:   string
		magento_env?:  string
	}

	timeouts?: {
		build?: #Duration
		start?: #Duration
		stop?:  #Duration
		purge?: #Duration
	}

	sync?: {
		binary?:           string & !=""
		container?:        string & =~"^[a-zA-Z0-9][a-zA-Z0-9_.-]*$"
		beta_path?:        string & =~"^/"
		owner?:            string
		initial_interval?: #Duration
		max_interval?:     #Duration
		ignore?: [...string]
	}

	registry?: {
		url?:       string & =~"^https?://"
		namespace?: string & =~"^[a-z0-9][a-z0-9_-]*$"
	}

	store?: {
		path?: string
	}

	telemetry?: {
		log_level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?: "console" | "json"
		tracing?: {
			exporter?: "none" | "stdout" | "otlp"
			endpoint?: string
			insecure?: bool
		}
		metrics_textfile?: string
	}
}
`

var compiledSchema = sync.OnceValues(func() (cue.Value, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(configSchema, cue.Filename("config.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Config")), nil
})

// ValidateSchema checks a YAML document against the configuration schema.
func ValidateSchema(filename string, raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	file, err := cueyaml.Extract(filename, raw)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	value := schema.Context().BuildFile(file)
	if err := value.Err(); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration %s: %w", filename, err)
	}
	return nil
}
