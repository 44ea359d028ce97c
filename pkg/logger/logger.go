// Package logger builds the process-wide diagnostic logger. All output
// goes to stderr: stdout is the control channel the record producer reads
// acknowledgments from, and must carry nothing else.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a sugared logger annotated with the service name and pid.
// Every entry carries an ISO8601 timestamp and the caller's file:line,
// so failures can be traced to the operation that produced them.
func New(service string) *zap.SugaredLogger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]any{
		"service": service,
		"pid":     os.Getpid(),
	}

	log, err := config.Build(zap.AddCaller())
	if err != nil {
		panic(err)
	}

	return log.Sugar()
}
