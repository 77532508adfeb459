package logger

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/staticserve/internal/config"
)

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]interface{}

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	zerolog.LevelFieldMarshalFunc = levelName
}

// levelName renders zerolog levels with the names used in configuration files.
func levelName(l zerolog.Level) string {
	switch l {
	case zerolog.DebugLevel:
		return string(config.LogLevelDebug)
	case zerolog.InfoLevel:
		return string(config.LogLevelInfo)
	case zerolog.WarnLevel:
		return string(config.LogLevelWarning)
	case zerolog.ErrorLevel:
		return string(config.LogLevelError)
	default:
		return strings.ToUpper(l.String())
	}
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// logTarget is a log destination. File targets can be reopened in place
// (for log rotation on SIGHUP); stdout and stderr are never closed.
type logTarget struct {
	mu   sync.Mutex
	path string
	w    io.Writer
	f    *os.File
}

func openTarget(target string) (*logTarget, error) {
	switch target {
	case "", "stdout":
		return &logTarget{w: os.Stdout}, nil
	case "stderr":
		return &logTarget{w: os.Stderr}, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", target, err)
	}
	return &logTarget{path: target, w: f, f: f}, nil
}

func writerTarget(w io.Writer) *logTarget {
	return &logTarget{w: w}
}

func (t *logTarget) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Write(p)
}

func (t *logTarget) reopen() error {
	if t.path == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	newFile, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to reopen log file %s: %w", t.path, err)
	}
	if t.f != nil {
		t.f.Close()
	}
	t.f = newFile
	t.w = newFile
	return nil
}

func (t *logTarget) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	t.w = io.Discard
	return err
}

// newZerolog builds a zerolog.Logger writing to out in the given format.
// Console output is colored only on the standard streams.
func newZerolog(out *logTarget, format string) zerolog.Logger {
	if format == config.LogFormatConsole {
		noColor := out.w != os.Stdout && out.w != os.Stderr
		return zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: noColor, TimeFormat: time.RFC3339})
	}
	return zerolog.New(out)
}

// parsedProxiesContainer holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type parsedProxiesContainer struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// AccessLogger writes one entry per served request.
type AccessLogger struct {
	zl            zerolog.Logger
	config        config.AccessLogConfig
	output        *logTarget
	parsedProxies parsedProxiesContainer
}

// ErrorLogger writes leveled diagnostic entries.
type ErrorLogger struct {
	zl     zerolog.Logger
	config config.ErrorLogConfig
	output *logTarget
}

// Logger bundles the access and error loggers.
type Logger struct {
	accessLog      *AccessLogger
	errorLog       *ErrorLogger
	globalLogLevel config.LogLevel
}

// NewLogger creates a Logger from configuration, opening file targets as needed.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	errorTarget := "stderr"
	if cfg.ErrorLog != nil {
		errorTarget = cfg.ErrorLog.Target
	}
	errorOut, err := openTarget(errorTarget)
	if err != nil {
		return nil, fmt.Errorf("error log: %w", err)
	}

	var accessOut *logTarget
	if accessLogEnabled(cfg) {
		accessOut, err = openTarget(cfg.AccessLog.Target)
		if err != nil {
			errorOut.close()
			return nil, fmt.Errorf("access log: %w", err)
		}
	}

	l, err := newLogger(cfg, accessOut, errorOut)
	if err != nil {
		errorOut.close()
		if accessOut != nil {
			accessOut.close()
		}
		return nil, err
	}
	return l, nil
}

// NewWithWriters creates a Logger that writes access entries to accessOut and
// error entries to errorOut, ignoring the configured targets. A nil accessOut
// disables access logging.
func NewWithWriters(cfg *config.LoggingConfig, accessOut, errorOut io.Writer) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}
	if errorOut == nil {
		errorOut = io.Discard
	}
	var at *logTarget
	if accessOut != nil && accessLogEnabled(cfg) {
		at = writerTarget(accessOut)
	}
	return newLogger(cfg, at, writerTarget(errorOut))
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{
		errorLog: &ErrorLogger{
			zl:     zerolog.Nop(),
			output: writerTarget(io.Discard),
		},
		globalLogLevel: config.LogLevelError,
	}
}

func accessLogEnabled(cfg *config.LoggingConfig) bool {
	return cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled)
}

func newLogger(cfg *config.LoggingConfig, accessOut, errorOut *logTarget) (*Logger, error) {
	level := cfg.LogLevel
	if level == "" {
		level = config.LogLevelInfo
	}

	l := &Logger{globalLogLevel: level}

	errCfg := config.ErrorLogConfig{Target: "stderr", Format: config.LogFormatJSON}
	if cfg.ErrorLog != nil {
		errCfg = *cfg.ErrorLog
	}
	l.errorLog = &ErrorLogger{
		zl:     newZerolog(errorOut, errCfg.Format).Level(zerologLevel(level)).With().Timestamp().Logger(),
		config: errCfg,
		output: errorOut,
	}

	if accessOut != nil {
		parsedProxies, err := preParseTrustedProxies(cfg.AccessLog.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", err)
		}
		l.accessLog = &AccessLogger{
			zl:            newZerolog(accessOut, cfg.AccessLog.Format).With().Timestamp().Logger(),
			config:        *cfg.AccessLog,
			output:        accessOut,
			parsedProxies: parsedProxies,
		}
	}
	return l, nil
}

// preParseTrustedProxies converts string representations of IPs and CIDRs
// into net.IP and *net.IPNet values.
func preParseTrustedProxies(proxyStrings []string) (parsedProxiesContainer, error) {
	var container parsedProxiesContainer
	for _, pStr := range proxyStrings {
		pStr = strings.TrimSpace(pStr)
		if pStr == "" {
			continue
		}
		if strings.Contains(pStr, "/") {
			_, ipNet, err := net.ParseCIDR(pStr)
			if err != nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", pStr, err)
			}
			container.cidrs = append(container.cidrs, ipNet)
			continue
		}
		ip := net.ParseIP(pStr)
		if ip == nil {
			return parsedProxiesContainer{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", pStr)
		}
		container.ips = append(container.ips, ip)
	}
	return container, nil
}

func isIPTrusted(ip net.IP, trustedProxies parsedProxiesContainer) bool {
	if ip == nil {
		return false
	}
	for _, trustedCIDR := range trustedProxies.cidrs {
		if trustedCIDR.Contains(ip) {
			return true
		}
	}
	for _, trustedIP := range trustedProxies.ips {
		if trustedIP.Equal(ip) {
			return true
		}
	}
	return false
}

// getRealClientIP determines the client address. The direct peer is used
// unless realIPHeaderName is set and present, in which case the header is
// walked right to left and the first address that is not a trusted proxy wins.
// A malformed entry makes the whole header untrustworthy.
func getRealClientIP(remoteAddr string, headers http.Header, realIPHeaderName string, trustedProxies parsedProxiesContainer) string {
	directPeerIP := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		directPeerIP = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		directPeerIP = ip.String()
	}

	if realIPHeaderName == "" {
		return directPeerIP
	}
	headerValue := headers.Get(realIPHeaderName)
	if headerValue == "" {
		return directPeerIP
	}

	ipsInHeader := strings.Split(headerValue, ",")
	for i := len(ipsInHeader) - 1; i >= 0; i-- {
		ipStr := strings.TrimSpace(ipsInHeader[i])
		if ipStr == "" {
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return directPeerIP
		}
		if !isIPTrusted(ip, trustedProxies) {
			return ipStr
		}
	}
	return directPeerIP
}

// LogAccess writes an access entry for a completed request.
func (al *AccessLogger) LogAccess(req *http.Request, status int, responseBytes int64, duration time.Duration) {
	if al == nil {
		return
	}

	_, clientPort, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		clientPort = "0"
	}
	realIPHeaderName := ""
	if al.config.RealIPHeader != nil {
		realIPHeaderName = *al.config.RealIPHeader
	}

	ev := al.zl.Log().
		Str("remote_addr", getRealClientIP(req.RemoteAddr, req.Header, realIPHeaderName, al.parsedProxies)).
		Str("remote_port", clientPort).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", status).
		Int64("resp_bytes", responseBytes).
		Int64("duration_ms", duration.Milliseconds())
	if ua := req.UserAgent(); ua != "" {
		ev = ev.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		ev = ev.Str("referer", ref)
	}
	ev.Send()
}

// LogError writes an entry at level if it passes the configured threshold.
func (el *ErrorLogger) LogError(level config.LogLevel, msg string, fields LogFields) {
	if el == nil {
		return
	}
	ev := el.zl.WithLevel(zerologLevel(level))
	if ev == nil {
		return
	}
	if len(fields) > 0 {
		ev = ev.Fields(map[string]interface{}(fields))
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelDebug, msg, fields)
}

func (l *Logger) Info(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelInfo, msg, fields)
}

func (l *Logger) Warn(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelWarning, msg, fields)
}

func (l *Logger) Error(msg string, fields LogFields) {
	l.errorLog.LogError(config.LogLevelError, msg, fields)
}

// Access records a completed request. It is a no-op when access logging is disabled.
func (l *Logger) Access(req *http.Request, status int, responseBytes int64, duration time.Duration) {
	l.accessLog.LogAccess(req, status, responseBytes, duration)
}

// AccessLogEnabled reports whether access entries are being written.
func (l *Logger) AccessLogEnabled() bool {
	return l.accessLog != nil
}

// CloseLogFiles closes file targets. Standard streams are left open.
func (l *Logger) CloseLogFiles() error {
	var errs []error
	if l.accessLog != nil {
		if err := l.accessLog.output.close(); err != nil {
			errs = append(errs, fmt.Errorf("access log: %w", err))
		}
	}
	if l.errorLog != nil {
		if err := l.errorLog.output.close(); err != nil {
			errs = append(errs, fmt.Errorf("error log: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ReopenLogFiles closes and reopens file targets, for use after external log rotation.
func (l *Logger) ReopenLogFiles() error {
	var errs []error
	if l.errorLog != nil {
		if err := l.errorLog.output.reopen(); err != nil {
			errs = append(errs, err)
		}
	}
	if l.accessLog != nil {
		if err := l.accessLog.output.reopen(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Level returns the threshold of the error log.
func (l *Logger) Level() config.LogLevel {
	return l.globalLogLevel
}
