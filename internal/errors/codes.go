package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidMode     ErrorCode = "invalid_mode"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Sampling errors
	ErrSampleInvalid      ErrorCode = "sample_invalid"
	ErrSampleUnavailable  ErrorCode = "sample_unavailable"
	ErrSensorMissing      ErrorCode = "sensor_missing"
	ErrBackendUnreachable ErrorCode = "backend_unreachable"

	// Backend errors
	ErrCommandFailed ErrorCode = "command_failed"
	ErrParseOutput   ErrorCode = "parse_output_failed"
	ErrStreamClosed  ErrorCode = "stream_closed"

	// Attribution errors
	ErrReadLabels  ErrorCode = "read_labels_failed"
	ErrParseLabels ErrorCode = "parse_labels_failed"

	// Output errors
	ErrServe   ErrorCode = "serve_failed"
	ErrPublish ErrorCode = "publish_failed"
	ErrEncode  ErrorCode = "encode_failed"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"

	// Recording errors
	ErrInitRecorder  ErrorCode = "init_recorder_failed"
	ErrRecordState   ErrorCode = "record_state_failed"
	ErrCloseRecorder ErrorCode = "close_recorder_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:           "Internal error occurred",
	ErrInvalidArgument:    "Invalid argument provided",
	ErrUnavailable:        "Service unavailable",
	ErrAlreadyRunning:     "Another instance is already running",
	ErrInvalidConfig:      "Invalid configuration",
	ErrBindFlags:          "Failed to bind flags",
	ErrReadConfig:         "Failed to read config file",
	ErrInvalidInterval:    "Invalid interval value",
	ErrInvalidMode:        "Invalid mode",
	ErrInvalidLogLevel:    "Invalid log level",
	ErrInitFailed:         "Initialization failed",
	ErrShutdownFailed:     "Shutdown failed",
	ErrSampleInvalid:      "Sample payload could not be decoded",
	ErrSampleUnavailable:  "Sample unavailable",
	ErrSensorMissing:      "Sensor missing from sample",
	ErrBackendUnreachable: "Telemetry backend unreachable",
	ErrCommandFailed:      "External command failed",
	ErrParseOutput:        "Failed to parse command output",
	ErrStreamClosed:       "Telemetry stream closed",
	ErrReadLabels:         "Failed to read labels file",
	ErrParseLabels:        "Invalid labels file",
	ErrServe:              "HTTP server failed",
	ErrPublish:            "Failed to publish state",
	ErrEncode:             "Failed to encode state",
	ErrOperationFailed:    "Operation failed",
	ErrTimeout:            "Operation timed out",
	ErrInitRecorder:       "Failed to initialize recorder",
	ErrRecordState:        "Failed to record dashboard state",
	ErrCloseRecorder:      "Failed to close recorder",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
