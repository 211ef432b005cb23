package logger

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ContextKey string

const (
	TrafficKey ContextKey = "X-Request-Id"
	LoggerKey  ContextKey = "_tenantcore-zap-logger-request"
)

var (
	Logger        *zap.Logger        // structured logging
	DefaultLogger *zap.SugaredLogger // convenience printf-style logging
)

// SetRequestLogger is a gin middleware that attaches a request-scoped logger
// carrying a generated request id to the request context.
func SetRequestLogger(c *gin.Context) {
	requestID := c.GetHeader(string(TrafficKey))
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ctx := context.WithValue(c.Request.Context(), TrafficKey, requestID)
	requestLogger := Logger.With(zap.String(string(TrafficKey), requestID))
	ctx = context.WithValue(ctx, LoggerKey, requestLogger)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

// GetRequestLogger returns the request-scoped logger, falling back to the
// global logger when the middleware did not run.
func GetRequestLogger(c *gin.Context) *zap.Logger {
	ctx := c.Request.Context()
	requestLogger, ok := ctx.Value(LoggerKey).(*zap.Logger)
	if !ok {
		return Logger
	}
	return requestLogger
}

func Info(args ...interface{}) {
	DefaultLogger.Info(args...)
}

func Infof(template string, args ...interface{}) {
	DefaultLogger.Infof(template, args...)
}

func Debug(args ...interface{}) {
	DefaultLogger.Debug(args...)
}

func Debugf(template string, args ...interface{}) {
	DefaultLogger.Debugf(template, args...)
}

func Warn(args ...interface{}) {
	DefaultLogger.Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	DefaultLogger.Warnf(template, args...)
}

func Error(args ...interface{}) {
	DefaultLogger.Error(args...)
}

func Errorf(template string, args ...interface{}) {
	DefaultLogger.Errorf(template, args...)
}

func Fatal(args ...interface{}) {
	DefaultLogger.Fatal(args...)
	os.Exit(1)
}

func Fatalf(template string, args ...interface{}) {
	DefaultLogger.Fatalf(template, args...)
	os.Exit(1)
}
