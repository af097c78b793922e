package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry section of the dxp configuration file.
type Config struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version" validate:"required"`
	// Environment is reported as deployment.environment on traces.
	Environment string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`

	// ResourceAttributes are added to the trace resource.
	ResourceAttributes map[string]string `yaml:"resource_attributes"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	// Format is console or json.
	Format string `yaml:"format" validate:"oneof=console json"`
	// Output is stderr, stdout or a file path; empty means stderr.
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`

	// With sampling on, SamplingInitial messages are logged per second and
	// every SamplingThereafter-th message after that.
	EnableSampling     bool `yaml:"enable_sampling"`
	SamplingInitial    int  `yaml:"sampling_initial" validate:"gte=0"`
	SamplingThereafter int  `yaml:"sampling_thereafter" validate:"gte=0"`

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string `yaml:"time_format"`
}

// TracingConfig configures run and action spans.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is otlp, stdout or none. With none, spans are sampled for
	// log correlation but never exported.
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	// Endpoint is the OTLP gRPC collector address.
	Endpoint           string            `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate       float64           `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MaxExportBatchSize int               `yaml:"max_export_batch_size" validate:"gte=0"`
	ExportTimeout      time.Duration     `yaml:"export_timeout" validate:"gte=0"`
	Headers            map[string]string `yaml:"headers"`
	Insecure           bool              `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `yaml:"path"`
	Namespace     string `yaml:"namespace"`
	// DefaultHistogramBuckets are the duration buckets, in seconds.
	DefaultHistogramBuckets []float64 `yaml:"default_histogram_buckets"`
}

// EventsConfig configures the run event stream.
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`
	// BufferSize bounds the async queue; events published to a full queue
	// are dropped.
	BufferSize    int           `yaml:"buffer_size" validate:"required_if=Enabled true,gte=0"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"gte=0"`
	MaxBatchSize  int           `yaml:"max_batch_size" validate:"gte=0"`
	EnableAsync   bool          `yaml:"enable_async"`
	// MinLevel drops events below info, warning or error.
	MinLevel string `yaml:"min_level" validate:"omitempty,oneof=info warning error"`
}

var validate = validator.New()

// DefaultConfig returns the telemetry used when the config file has no
// telemetry section: console logs at info, no tracing or metrics, async
// events.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "dxp",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			EnableCaller:       true,
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "dxp",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
		ResourceAttributes: make(map[string]string),
	}
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// Service describes this process on trace resources.
func (c *Config) Service() Service {
	return Service{
		Name:        c.ServiceName,
		Version:     c.ServiceVersion,
		Environment: c.Environment,
		Attributes:  c.ResourceAttributes,
	}
}
